package minidump

import (
	"encoding/binary"
	"sort"
)

const (
	memoryDescriptorSize   = 16
	memory64DescriptorSize = 16
)

// MemoryRegion is a range of process memory captured in the dump.
type MemoryRegion struct {
	Base uint64
	Data []byte
}

// Size returns the region length.
func (r *MemoryRegion) Size() uint64 { return uint64(len(r.Data)) }

// End returns the first address past the region.
func (r *MemoryRegion) End() uint64 { return r.Base + r.Size() }

// Contains reports whether addr lies within the region.
func (r *MemoryRegion) Contains(addr uint64) bool {
	return r != nil && addr >= r.Base && addr-r.Base < r.Size()
}

// Read returns n bytes at addr if all of them are inside the region.
func (r *MemoryRegion) Read(addr uint64, n int) ([]byte, bool) {
	if r == nil || addr < r.Base || n < 0 {
		return nil, false
	}
	off := addr - r.Base
	if off > r.Size() || uint64(n) > r.Size()-off {
		return nil, false
	}
	return r.Data[off : off+uint64(n)], true
}

// ReadUint32 reads a little-endian uint32 at addr.
func (r *MemoryRegion) ReadUint32(addr uint64) (uint32, bool) {
	b, ok := r.Read(addr, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// ReadUint64 reads a little-endian uint64 at addr.
func (r *MemoryRegion) ReadUint64(addr uint64) (uint64, bool) {
	b, ok := r.Read(addr, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// ReadPointer reads a pointer of size 4 or 8 at addr.
func (r *MemoryRegion) ReadPointer(addr uint64, size int) (uint64, bool) {
	if size == 4 {
		v, ok := r.ReadUint32(addr)
		return uint64(v), ok
	}
	return r.ReadUint64(addr)
}

// MemoryList holds every captured memory region, sorted by base address.
type MemoryList struct {
	Regions []MemoryRegion
}

// RegionAt returns the region containing addr.
func (l *MemoryList) RegionAt(addr uint64) *MemoryRegion {
	i := sort.Search(len(l.Regions), func(i int) bool { return l.Regions[i].End() > addr })
	if i < len(l.Regions) && l.Regions[i].Contains(addr) {
		return &l.Regions[i]
	}
	return nil
}

func (m *Minidump) readMemoryList() (*MemoryList, error) {
	plain, errPlain := m.readMemoryDescriptors()
	full, errFull := m.readMemory64Descriptors()
	if errPlain != nil && errFull != nil {
		if m.HasStream(MemoryListStream) {
			return nil, errPlain
		}
		return nil, errFull
	}
	regions := append(plain, full...)
	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })
	return &MemoryList{Regions: regions}, nil
}

func (m *Minidump) readMemoryDescriptors() ([]MemoryRegion, error) {
	data, err := m.RawStream(MemoryListStream)
	if err != nil {
		return nil, err
	}
	n, body, err := arrayBody(data, memoryDescriptorSize, "MemoryList stream")
	if err != nil {
		return nil, err
	}

	regions := make([]MemoryRegion, 0, n)
	c := newCursor(body, "MemoryList stream")
	for i := 0; i < n; i++ {
		base := c.u64()
		loc := c.location()
		if c.err != nil {
			return nil, c.err
		}
		raw, err := loc.slice(m.data, "memory range")
		if err != nil || len(raw) == 0 {
			continue
		}
		regions = append(regions, MemoryRegion{Base: base, Data: raw})
	}
	return regions, nil
}

func (m *Minidump) readMemory64Descriptors() ([]MemoryRegion, error) {
	data, err := m.RawStream(Memory64ListStream)
	if err != nil {
		return nil, err
	}
	c := newCursor(data, "Memory64List stream")
	n := c.u64()
	rva := c.u64()
	if c.err != nil {
		return nil, c.err
	}
	if n > uint64(len(data)-16)/memory64DescriptorSize {
		return nil, streamTruncated("Memory64List stream", 16, int(min(n, 1<<27))*memory64DescriptorSize, len(data)-16)
	}

	regions := make([]MemoryRegion, 0, n)
	for i := uint64(0); i < n; i++ {
		base := c.u64()
		size := c.u64()
		if rva > uint64(len(m.data)) || size > uint64(len(m.data))-rva {
			break
		}
		if size > 0 {
			regions = append(regions, MemoryRegion{Base: base, Data: m.data[rva : rva+size : rva+size]})
		}
		rva += size
	}
	if c.err != nil {
		return nil, c.err
	}
	return regions, nil
}
