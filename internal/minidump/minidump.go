// Package minidump reads the minidump crash container format.
//
// Parse validates only the header and the stream directory. Every stream is
// decoded on first access, independently of the others, so a corrupt stream
// never prevents reading the rest of the dump. Decoded streams are cached and
// safe for concurrent use.
package minidump

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	headerSize         = 32
	directoryEntrySize = 12

	signature = 0x504d444d // 'MDMP'
	version   = 0xa793
)

// StreamType identifies a stream in the minidump directory.
type StreamType uint32

// Stream types understood by this package.
const (
	ThreadListStream         StreamType = 3
	ModuleListStream         StreamType = 4
	MemoryListStream         StreamType = 5
	ExceptionStream          StreamType = 6
	SystemInfoStream         StreamType = 7
	Memory64ListStream       StreamType = 9
	UnloadedModuleListStream StreamType = 14
	MiscInfoStream           StreamType = 15
	ThreadNamesStream        StreamType = 24
	BreakpadInfoStream       StreamType = 0x47670001
)

var streamNames = map[StreamType]string{
	ThreadListStream:         "ThreadList",
	ModuleListStream:         "ModuleList",
	MemoryListStream:         "MemoryList",
	ExceptionStream:          "Exception",
	SystemInfoStream:         "SystemInfo",
	Memory64ListStream:       "Memory64List",
	UnloadedModuleListStream: "UnloadedModuleList",
	MiscInfoStream:           "MiscInfo",
	ThreadNamesStream:        "ThreadNames",
	BreakpadInfoStream:       "BreakpadInfo",
}

func (t StreamType) String() string {
	if name, ok := streamNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Stream(%#x)", uint32(t))
}

// Header is the MINIDUMP_HEADER.
type Header struct {
	Signature          uint32
	Version            uint32
	NumberOfStreams    uint32
	StreamDirectoryRVA uint32
	Checksum           uint32
	TimeDateStamp      uint32
	Flags              uint64
}

// DirectoryEntry describes one stream.
type DirectoryEntry struct {
	Type     StreamType
	Location Location
}

// Minidump is a parsed minidump backed by an immutable byte buffer.
type Minidump struct {
	Header    Header
	Directory []DirectoryEntry

	data    []byte
	streams map[StreamType]Location

	systemInfo   func() (*SystemInfo, error)
	exception    func() (*Exception, error)
	threads      func() (*ThreadList, error)
	modules      func() (*ModuleList, error)
	memory       func() (*MemoryList, error)
	unloaded     func() (*UnloadedModuleList, error)
	miscInfo     func() (*MiscInfo, error)
	threadNames  func() (*ThreadNames, error)
	breakpadInfo func() (*BreakpadInfo, error)
}

// Open reads and parses the minidump at path.
func Open(path string) (*Minidump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read minidump: %w", err)
	}
	return Parse(data)
}

// Parse validates the header and directory of data. data must not be
// modified while the Minidump is in use.
func Parse(data []byte) (*Minidump, error) {
	if len(data) < headerSize {
		return nil, notAMinidump("file is %d bytes, header needs %d", len(data), headerSize)
	}

	c := newCursor(data, "header")
	h := Header{
		Signature:          c.u32(),
		Version:            c.u32(),
		NumberOfStreams:    c.u32(),
		StreamDirectoryRVA: c.u32(),
		Checksum:           c.u32(),
		TimeDateStamp:      c.u32(),
		Flags:              c.u64(),
	}
	if h.Signature != signature {
		return nil, notAMinidump("invalid signature %#x", h.Signature)
	}
	if h.Version&0xffff != version {
		return nil, notAMinidump("invalid version %#x", h.Version&0xffff)
	}

	dirSize := uint64(h.NumberOfStreams) * directoryEntrySize
	if uint64(h.StreamDirectoryRVA)+dirSize > uint64(len(data)) {
		return nil, notAMinidump("directory of %d entries at %#x exceeds file size %d",
			h.NumberOfStreams, h.StreamDirectoryRVA, len(data))
	}

	m := &Minidump{
		Header:    h,
		Directory: make([]DirectoryEntry, h.NumberOfStreams),
		data:      data,
		streams:   make(map[StreamType]Location, h.NumberOfStreams),
	}
	c = newCursor(data, "directory")
	c.seek(int(h.StreamDirectoryRVA))
	for i := range m.Directory {
		e := DirectoryEntry{Type: StreamType(c.u32()), Location: c.location()}
		m.Directory[i] = e
		if _, dup := m.streams[e.Type]; !dup {
			m.streams[e.Type] = e.Location
		}
	}
	if c.err != nil {
		return nil, c.err
	}

	m.systemInfo = sync.OnceValues(m.readSystemInfo)
	m.exception = sync.OnceValues(m.readException)
	m.threads = sync.OnceValues(m.readThreadList)
	m.modules = sync.OnceValues(m.readModuleList)
	m.memory = sync.OnceValues(m.readMemoryList)
	m.unloaded = sync.OnceValues(m.readUnloadedModuleList)
	m.miscInfo = sync.OnceValues(m.readMiscInfo)
	m.threadNames = sync.OnceValues(m.readThreadNames)
	m.breakpadInfo = sync.OnceValues(m.readBreakpadInfo)
	return m, nil
}

// Bytes returns the backing buffer.
func (m *Minidump) Bytes() []byte { return m.data }

// Timestamp returns the time the dump was written.
func (m *Minidump) Timestamp() time.Time {
	return time.Unix(int64(m.Header.TimeDateStamp), 0).UTC()
}

// HasStream reports whether the directory lists t.
func (m *Minidump) HasStream(t StreamType) bool {
	_, ok := m.streams[t]
	return ok
}

// RawStream returns the bytes of the first stream of type t.
func (m *Minidump) RawStream(t StreamType) ([]byte, error) {
	loc, ok := m.streams[t]
	if !ok {
		return nil, notPresent(t)
	}
	return loc.slice(m.data, t.String()+" stream")
}

// SystemInfo returns the SystemInfo stream.
func (m *Minidump) SystemInfo() (*SystemInfo, error) { return m.systemInfo() }

// Exception returns the Exception stream.
func (m *Minidump) Exception() (*Exception, error) { return m.exception() }

// ThreadList returns the ThreadList stream.
func (m *Minidump) ThreadList() (*ThreadList, error) { return m.threads() }

// ModuleList returns the ModuleList stream.
func (m *Minidump) ModuleList() (*ModuleList, error) { return m.modules() }

// MemoryList returns the captured memory, merged from MemoryList and
// Memory64List. It fails only when neither stream can be read.
func (m *Minidump) MemoryList() (*MemoryList, error) { return m.memory() }

// UnloadedModuleList returns the UnloadedModuleList stream.
func (m *Minidump) UnloadedModuleList() (*UnloadedModuleList, error) { return m.unloaded() }

// MiscInfo returns the MiscInfo stream.
func (m *Minidump) MiscInfo() (*MiscInfo, error) { return m.miscInfo() }

// ThreadNames returns the ThreadNames stream.
func (m *Minidump) ThreadNames() (*ThreadNames, error) { return m.threadNames() }

// BreakpadInfo returns the Breakpad-specific info stream.
func (m *Minidump) BreakpadInfo() (*BreakpadInfo, error) { return m.breakpadInfo() }

// OrDefault returns v, or an empty T when the stream could not be read.
// Use it for streams whose absence analysis tolerates.
func OrDefault[T any](v *T, err error) *T {
	if err != nil || v == nil {
		return new(T)
	}
	return v
}
