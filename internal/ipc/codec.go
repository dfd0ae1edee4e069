package ipc

import (
	"encoding/binary"
	"math/bits"
	"unicode/utf8"
)

// Encode serializes msg. The returned AncillaryData, if any, must be sent
// beside the payload.
func Encode(msg Message) (header, payload []byte, anc *AncillaryData) {
	w := &payloadWriter{}
	msg.encode(w)
	payload = w.finish()
	header = Header{Kind: msg.Kind(), Size: uint(len(payload))}.Bytes()
	if m, ok := msg.(*Initialize); ok {
		anc = m.Endpoint
	}
	return header, payload, anc
}

// Decode parses the payload of a message of the given kind. Ancillary data
// handed to a kind that cannot carry it is closed, as is ancillary data of a
// message that fails to decode.
func Decode(kind Kind, payload []byte, anc *AncillaryData) (Message, error) {
	r := &payloadReader{buf: payload}

	var msg Message
	switch kind {
	case KindInitialize:
		lens := r.lengths(3)
		m := &Initialize{}
		m.Path = r.str(lens[0], "path")
		m.PlatformData = r.bytes(lens[1], "platform data")
		m.ReleaseChannel = r.str(lens[2], "release channel")
		msg = m
	case KindInitializeReply:
		msg = &InitializeReply{Pid: r.u32("pid")}
	case KindTransferMinidump:
		msg = &TransferMinidump{Pid: r.u32("pid")}
	case KindTransferMinidumpReply:
		lens := r.lengths(2)
		msg = &TransferMinidumpReply{Path: r.str(lens[0], "path"), Error: r.str(lens[1], "error")}
	case KindGenerateMinidump:
		m := &GenerateMinidump{}
		m.Pid = r.u32("pid")
		m.ThreadID = r.u32("thread id")
		msg = m
	case KindGenerateMinidumpReply:
		lens := r.lengths(2)
		msg = &GenerateMinidumpReply{Path: r.str(lens[0], "path"), Error: r.str(lens[1], "error")}
	case KindWindowsErrorReporting:
		m := &WindowsErrorReporting{}
		m.Pid = r.u32("pid")
		m.ThreadID = r.u32("thread id")
		lens := r.lengths(2)
		m.ExceptionRecord = r.bytes(lens[0], "exception record")
		m.Context = r.bytes(lens[1], "context")
		msg = m
	case KindWindowsErrorReportingReply:
		msg = &WindowsErrorReportingReply{Handled: r.boolean("handled")}
	default:
		_ = anc.Close()
		return nil, invalidKind(byte(kind))
	}

	if err := r.done(); err != nil {
		_ = anc.Close()
		return nil, err
	}

	if m, ok := msg.(*Initialize); ok {
		m.Endpoint = anc
	} else {
		_ = anc.Close()
	}
	return msg, nil
}

type payloadWriter struct {
	fixed []byte
	lens  []byte
	data  []byte
}

func (w *payloadWriter) u32(v uint32) {
	w.fixed = binary.NativeEndian.AppendUint32(w.fixed, v)
}

func (w *payloadWriter) boolean(v bool) {
	var b byte
	if v {
		b = 1
	}
	w.fixed = append(w.fixed, b)
}

func (w *payloadWriter) bytes(b []byte) {
	w.lens = appendUint(w.lens, uint(len(b)))
	w.data = append(w.data, b...)
}

func (w *payloadWriter) str(s string) {
	w.lens = appendUint(w.lens, uint(len(s)))
	w.data = append(w.data, s...)
}

func (w *payloadWriter) finish() []byte {
	out := make([]byte, 0, len(w.fixed)+len(w.lens)+len(w.data))
	out = append(out, w.fixed...)
	out = append(out, w.lens...)
	return append(out, w.data...)
}

// payloadReader consumes a payload front to back. The first failure sticks
// and every later read returns zero values.
type payloadReader struct {
	buf []byte
	err error
}

func (r *payloadReader) next(n uint, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint(len(r.buf)) {
		r.err = invalidData("%s: length %d exceeds remaining %d bytes", what, n, len(r.buf))
		return nil
	}
	b := r.buf[:n:n]
	r.buf = r.buf[n:]
	return b
}

func (r *payloadReader) u32(what string) uint32 {
	b := r.next(4, what)
	if b == nil {
		return 0
	}
	return binary.NativeEndian.Uint32(b)
}

func (r *payloadReader) boolean(what string) bool {
	b := r.next(1, what)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	}
	r.err = invalidData("%s: invalid bool byte %d", what, b[0])
	return false
}

func (r *payloadReader) lengths(n int) []uint {
	out := make([]uint, n)
	for i := range out {
		b := r.next(bits.UintSize/8, "length prefix")
		if b == nil {
			return out
		}
		out[i] = readUint(b)
	}
	return out
}

// bytes copies the next n bytes. Zero-length fields decode as nil, so an
// empty slice and a nil slice travel the same way.
func (r *payloadReader) bytes(n uint, what string) []byte {
	b := r.next(n, what)
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *payloadReader) str(n uint, what string) string {
	b := r.next(n, what)
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = invalidData("%s: invalid utf-8", what)
		return ""
	}
	return string(b)
}

func (r *payloadReader) done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return invalidData("%d trailing bytes", len(r.buf))
	}
	return nil
}
