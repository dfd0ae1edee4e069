package ipc

import "encoding/binary"

// ExceptionRecordSize is the size of a Windows EXCEPTION_RECORD64.
const ExceptionRecordSize = 152

// ExceptionRecord is a decoded EXCEPTION_RECORD64.
type ExceptionRecord struct {
	Code        uint32
	Flags       uint32
	Record      uint64
	Address     uint64
	Information []uint64
}

// ParseExceptionRecord decodes the little-endian EXCEPTION_RECORD64 carried
// by WindowsErrorReporting.
func ParseExceptionRecord(b []byte) (*ExceptionRecord, error) {
	if len(b) < ExceptionRecordSize {
		return nil, invalidData("exception record: %d bytes, need %d", len(b), ExceptionRecordSize)
	}
	le := binary.LittleEndian
	rec := &ExceptionRecord{
		Code:    le.Uint32(b[0:]),
		Flags:   le.Uint32(b[4:]),
		Record:  le.Uint64(b[8:]),
		Address: le.Uint64(b[16:]),
	}
	n := le.Uint32(b[24:])
	if n > 15 {
		return nil, invalidData("exception record: %d parameters, max 15", n)
	}
	// b[28:32] is alignment padding.
	rec.Information = make([]uint64, n)
	for i := range rec.Information {
		rec.Information[i] = le.Uint64(b[32+8*i:])
	}
	return rec, nil
}

// Bytes encodes the record in EXCEPTION_RECORD64 layout.
func (r *ExceptionRecord) Bytes() []byte {
	b := make([]byte, ExceptionRecordSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], r.Code)
	le.PutUint32(b[4:], r.Flags)
	le.PutUint64(b[8:], r.Record)
	le.PutUint64(b[16:], r.Address)
	n := min(len(r.Information), 15)
	le.PutUint32(b[24:], uint32(n))
	for i := 0; i < n; i++ {
		le.PutUint64(b[32+8*i:], r.Information[i])
	}
	return b
}
