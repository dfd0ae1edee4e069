package minidump

import (
	"encoding/binary"
	"unicode/utf16"
)

// cursor reads little-endian fields out of a byte slice. The first
// out-of-bounds read sets err; every later read returns zero.
type cursor struct {
	buf  []byte
	off  int
	what string
	err  error
}

func newCursor(buf []byte, what string) *cursor {
	return &cursor{buf: buf, what: what}
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off < 0 || c.off > len(c.buf) || n > len(c.buf)-c.off {
		c.err = streamTruncated(c.what, c.off, n, len(c.buf)-c.off)
		return nil
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b
}

func (c *cursor) skip(n int) {
	c.take(n)
}

func (c *cursor) seek(off int) {
	if c.err == nil {
		c.off = off
	}
}

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Location is a MINIDUMP_LOCATION_DESCRIPTOR: a region of the file.
type Location struct {
	DataSize uint32
	RVA      uint32
}

func (c *cursor) location() Location {
	return Location{DataSize: c.u32(), RVA: c.u32()}
}

// slice returns the bytes loc refers to within file.
func (loc Location) slice(file []byte, what string) ([]byte, error) {
	off, size := uint64(loc.RVA), uint64(loc.DataSize)
	if off+size > uint64(len(file)) {
		return nil, streamTruncated(what, int(loc.RVA), int(loc.DataSize), max(len(file)-int(loc.RVA), 0))
	}
	return file[off : off+size : off+size], nil
}

// readString decodes the MINIDUMP_STRING at rva: a u32 byte length followed
// by UTF-16LE code units.
func readString(file []byte, rva uint32) (string, error) {
	c := newCursor(file, "string")
	c.seek(int(rva))
	n := c.u32()
	raw := c.take(int(n &^ 1))
	if c.err != nil {
		return "", c.err
	}
	return decodeUTF16(raw), nil
}

func decodeUTF16(raw []byte) string {
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(raw[i:]))
	}
	for len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units))
}

// arrayBody locates the entries of a count-prefixed array stream. Breakpad
// writers may insert 4 bytes of padding after the count; both layouts are
// accepted.
func arrayBody(data []byte, entrySize int, what string) (count int, body []byte, err error) {
	c := newCursor(data, what)
	n := c.u32()
	if c.err != nil {
		return 0, nil, c.err
	}
	need := uint64(n) * uint64(entrySize)
	switch {
	case uint64(len(data)) == 8+need:
		return int(n), data[8:], nil
	case uint64(len(data)) >= 4+need:
		return int(n), data[4:], nil
	default:
		return 0, nil, streamTruncated(what, 4, int(min(need, 1<<31)), len(data)-4)
	}
}
