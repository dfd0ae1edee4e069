package ipc

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	header, payload, anc := Encode(msg)

	h, err := DecodeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, msg.Kind(), h.Kind)
	assert.Equal(t, uint(len(payload)), h.Size)

	decoded, err := Decode(h.Kind, payload, anc)
	require.NoError(t, err)
	return decoded
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"initialize", &Initialize{Path: "/var/crash", PlatformData: []byte{1, 2, 3}, ReleaseChannel: "nightly"}},
		{"initialize empty", &Initialize{}},
		{"initialize reply", &InitializeReply{Pid: 4242}},
		{"transfer minidump", &TransferMinidump{Pid: 17}},
		{"transfer minidump reply", &TransferMinidumpReply{Path: "/var/crash/a.dmp"}},
		{"transfer minidump reply error", &TransferMinidumpReply{Error: "no minidump for pid 17"}},
		{"generate minidump", &GenerateMinidump{Pid: 9, ThreadID: 10}},
		{"generate minidump reply", &GenerateMinidumpReply{Path: "/tmp/ü.dmp", Error: ""}},
		{"wer", &WindowsErrorReporting{Pid: 1, ThreadID: 2, ExceptionRecord: []byte{0xaa}, Context: []byte{0xbb, 0xcc}}},
		{"wer reply handled", &WindowsErrorReportingReply{Handled: true}},
		{"wer reply unhandled", &WindowsErrorReportingReply{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, roundTrip(t, tt.msg))
		})
	}
}

func TestRoundTrip_EmptyBytesDecodeAsNil(t *testing.T) {
	got := roundTrip(t, &Initialize{Path: "/var/crash", PlatformData: []byte{}}).(*Initialize)
	assert.Nil(t, got.PlatformData)
	assert.Equal(t, "/var/crash", got.Path)

	wer := roundTrip(t, &WindowsErrorReporting{Pid: 3, ExceptionRecord: []byte{}, Context: []byte{}}).(*WindowsErrorReporting)
	assert.Nil(t, wer.ExceptionRecord)
	assert.Nil(t, wer.Context)
}

func TestErrors_Distinct(t *testing.T) {
	sentinels := []error{ErrTruncated, ErrInvalidKind, ErrInvalidData, ErrUnexpectedReply, ErrClosed}
	for i, a := range sentinels {
		for j, b := range sentinels {
			assert.Equal(t, i == j, errors.Is(a, b), "%v vs %v", a, b)
		}
	}
	assert.False(t, errors.Is(invalidData("bad length"), ErrClosed))
	assert.False(t, errors.Is(invalidKind(99), ErrUnexpectedReply))
}

func TestEncode_InitializeLayout(t *testing.T) {
	header, payload, _ := Encode(&Initialize{Path: "ab", PlatformData: []byte{9}, ReleaseChannel: "c"})

	require.Len(t, header, HeaderSize)
	assert.Equal(t, byte(KindInitialize), header[0])

	want := appendUint(nil, 2)
	want = appendUint(want, 1)
	want = appendUint(want, 1)
	want = append(want, 'a', 'b', 9, 'c')
	assert.Equal(t, want, payload)
}

func TestDecodeHeader_Errors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		for n := 0; n < HeaderSize; n++ {
			_, err := DecodeHeader(make([]byte, n))
			assert.ErrorIs(t, err, ErrTruncated, "len %d", n)
		}
	})

	t.Run("invalid kind", func(t *testing.T) {
		for _, kind := range []byte{0, 9, 200, 255} {
			b := Header{Kind: Kind(kind)}.Bytes()
			_, err := DecodeHeader(b)
			assert.ErrorIs(t, err, ErrInvalidKind, "kind %d", kind)
		}
	})

	t.Run("extra bytes ignored", func(t *testing.T) {
		b := append(Header{Kind: KindTransferMinidump, Size: 4}.Bytes(), 1, 2, 3, 4)
		h, err := DecodeHeader(b)
		require.NoError(t, err)
		assert.Equal(t, uint(4), h.Size)
	})
}

func TestDecode_InvalidData(t *testing.T) {
	valid := func(msg Message) []byte {
		_, payload, _ := Encode(msg)
		return payload
	}

	tests := []struct {
		name    string
		kind    Kind
		payload []byte
	}{
		{"short fixed field", KindInitializeReply, []byte{1, 2}},
		{"trailing bytes", KindTransferMinidump, append(valid(&TransferMinidump{Pid: 1}), 0)},
		{"missing length prefix", KindInitialize, appendUint(nil, 0)},
		{"length exceeds payload", KindTransferMinidumpReply, append(appendUint(appendUint(nil, 100), 0), 'x')},
		{"huge length", KindInitialize, appendUint(appendUint(appendUint(nil, math.MaxUint), 0), 0)},
		{"invalid utf8", KindTransferMinidumpReply, append(appendUint(appendUint(nil, 2), 0), 0xff, 0xfe)},
		{"invalid bool", KindWindowsErrorReportingReply, []byte{2}},
		{"empty", KindGenerateMinidump, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.kind, tt.payload, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidData)
		})
	}
}

func TestDecode_InvalidKind(t *testing.T) {
	_, err := Decode(Kind(42), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func openTemp(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "endpoint"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestDecode_AncillaryOwnership(t *testing.T) {
	t.Run("initialize keeps endpoint", func(t *testing.T) {
		f := openTemp(t)
		msg := roundTrip(t, &Initialize{Path: "p", Endpoint: NewAncillaryData(f)})
		init := msg.(*Initialize)
		require.True(t, init.Endpoint.Present())
		assert.Same(t, f, init.Endpoint.Take())
		assert.Nil(t, init.Endpoint.Take())
	})

	t.Run("other kinds close it", func(t *testing.T) {
		f := openTemp(t)
		anc := NewAncillaryData(f)
		_, payload, _ := Encode(&TransferMinidump{Pid: 3})
		_, err := Decode(KindTransferMinidump, payload, anc)
		require.NoError(t, err)
		assert.False(t, anc.Present())
		_, err = f.Write([]byte("x"))
		assert.True(t, errors.Is(err, os.ErrClosed))
	})

	t.Run("decode failure closes it", func(t *testing.T) {
		anc := NewAncillaryData(openTemp(t))
		_, err := Decode(KindInitialize, []byte{1}, anc)
		require.Error(t, err)
		assert.False(t, anc.Present())
	})
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindInitializeReply, KindInitialize.Reply())
	assert.True(t, KindWindowsErrorReportingReply.IsReply())
	assert.False(t, KindGenerateMinidump.IsReply())
	assert.Equal(t, "transfer_minidump", KindTransferMinidump.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestExceptionRecord(t *testing.T) {
	rec := &ExceptionRecord{Code: 0xc0000005, Flags: 0, Address: 0x7ff612340000, Information: []uint64{1, 0xdeadbeef}}
	b := rec.Bytes()
	require.Len(t, b, ExceptionRecordSize)

	parsed, err := ParseExceptionRecord(b)
	require.NoError(t, err)
	assert.Equal(t, rec, parsed)

	_, err = ParseExceptionRecord(b[:100])
	assert.ErrorIs(t, err, ErrInvalidData)

	b[24] = 16
	_, err = ParseExceptionRecord(b)
	assert.ErrorIs(t, err, ErrInvalidData)
}
