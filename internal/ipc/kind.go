// Package ipc implements the request/reply protocol spoken between a crashing
// process and its crash helper.
//
// Every message is a fixed header followed by a kind-specific payload:
//
//	[kind u8][size uint, native endian][payload: size bytes]
//
// Fixed-width fields come first in the payload, then one uint length per
// variable-length field, then the variable-length bytes in the same order.
// OS descriptors travel beside the bytes as AncillaryData.
package ipc

import (
	"encoding/binary"
	"math/bits"
)

// Kind identifies a message type on the wire.
type Kind uint8

// Message kinds. A reply is always its request's kind plus one.
const (
	KindInitialize Kind = iota + 1
	KindInitializeReply
	KindTransferMinidump
	KindTransferMinidumpReply
	KindGenerateMinidump
	KindGenerateMinidumpReply
	KindWindowsErrorReporting
	KindWindowsErrorReportingReply
)

// HeaderSize is the encoded size of a Header on this platform.
const HeaderSize = 1 + bits.UintSize/8

var kindNames = map[Kind]string{
	KindInitialize:                 "initialize",
	KindInitializeReply:            "initialize_reply",
	KindTransferMinidump:           "transfer_minidump",
	KindTransferMinidumpReply:      "transfer_minidump_reply",
	KindGenerateMinidump:           "generate_minidump",
	KindGenerateMinidumpReply:      "generate_minidump_reply",
	KindWindowsErrorReporting:      "windows_error_reporting",
	KindWindowsErrorReportingReply: "windows_error_reporting_reply",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	return k >= KindInitialize && k <= KindWindowsErrorReportingReply
}

// IsReply reports whether k is a reply kind.
func (k Kind) IsReply() bool {
	return k.Valid() && k%2 == 0
}

// Reply returns the kind that answers k.
func (k Kind) Reply() Kind {
	return k + 1
}

// Header precedes every payload.
type Header struct {
	Kind Kind
	Size uint
}

// Bytes encodes the header.
func (h Header) Bytes() []byte {
	b := make([]byte, 1, HeaderSize)
	b[0] = byte(h.Kind)
	return appendUint(b, h.Size)
}

// DecodeHeader decodes the header at the start of b. Bytes past HeaderSize
// are ignored.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, truncated(len(b), HeaderSize)
	}
	kind := Kind(b[0])
	if !kind.Valid() {
		return Header{}, invalidKind(b[0])
	}
	return Header{Kind: kind, Size: readUint(b[1:HeaderSize])}, nil
}

func appendUint(b []byte, v uint) []byte {
	if bits.UintSize == 64 {
		return binary.NativeEndian.AppendUint64(b, uint64(v))
	}
	return binary.NativeEndian.AppendUint32(b, uint32(v))
}

func readUint(b []byte) uint {
	if bits.UintSize == 64 {
		return uint(binary.NativeEndian.Uint64(b))
	}
	return uint(binary.NativeEndian.Uint32(b))
}
