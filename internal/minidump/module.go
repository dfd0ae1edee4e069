package minidump

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

const (
	moduleEntrySize         = 108
	unloadedModuleEntrySize = 24

	cvSignaturePDB70 = 0x53445352 // 'RSDS'
	cvSignaturePDB20 = 0x3031424e // 'NB10'
	cvSignatureELF   = 0x4270454c // 'BpEL'

	fixedFileInfoSignature = 0xfeef04bd
)

// VersionInfo is the VS_FIXEDFILEINFO of a module.
type VersionInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

// Version returns the dotted file version, or "" if the info is absent.
func (v VersionInfo) Version() string {
	if v.Signature != fixedFileInfoSignature {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d",
		v.FileVersionMS>>16, v.FileVersionMS&0xffff,
		v.FileVersionLS>>16, v.FileVersionLS&0xffff)
}

// Module is one loaded image.
type Module struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	Checksum      uint32
	TimeDateStamp uint32
	Name          string
	VersionInfo   VersionInfo

	// DebugFile, DebugID and CodeID identify the module's symbols, taken
	// from its CodeView record.
	DebugFile string
	DebugID   string
	CodeID    string

	CVRecord   []byte
	MiscRecord []byte
}

// End returns the first address past the image.
func (m *Module) End() uint64 { return m.BaseOfImage + uint64(m.SizeOfImage) }

// Contains reports whether addr lies within the image.
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.BaseOfImage && addr-m.BaseOfImage < uint64(m.SizeOfImage)
}

// Filename returns the final path element of the module name.
func (m *Module) Filename() string {
	return basename(m.Name)
}

// Version returns the dotted file version.
func (m *Module) Version() string { return m.VersionInfo.Version() }

// ModuleList is the ModuleList stream. Modules keeps stream order.
type ModuleList struct {
	Modules []Module

	byAddr []int
}

// NewModuleList builds a list over modules and indexes it by address.
func NewModuleList(modules []Module) *ModuleList {
	l := &ModuleList{Modules: modules, byAddr: make([]int, len(modules))}
	for i := range l.byAddr {
		l.byAddr[i] = i
	}
	sort.SliceStable(l.byAddr, func(a, b int) bool {
		return modules[l.byAddr[a]].BaseOfImage < modules[l.byAddr[b]].BaseOfImage
	})
	return l
}

// ModuleAt returns the module containing addr.
func (l *ModuleList) ModuleAt(addr uint64) *Module {
	if l == nil {
		return nil
	}
	i := sort.Search(len(l.byAddr), func(i int) bool {
		return l.Modules[l.byAddr[i]].BaseOfImage > addr
	})
	if i == 0 {
		return nil
	}
	if mod := &l.Modules[l.byAddr[i-1]]; mod.Contains(addr) {
		return mod
	}
	return nil
}

// MainModule returns the first module, which by convention is the
// executable.
func (l *ModuleList) MainModule() *Module {
	if l == nil || len(l.Modules) == 0 {
		return nil
	}
	return &l.Modules[0]
}

func (m *Minidump) readModuleList() (*ModuleList, error) {
	data, err := m.RawStream(ModuleListStream)
	if err != nil {
		return nil, err
	}
	n, body, err := arrayBody(data, moduleEntrySize, "ModuleList stream")
	if err != nil {
		return nil, err
	}

	modules := make([]Module, n)
	c := newCursor(body, "ModuleList stream")
	for i := range modules {
		mod := &modules[i]
		mod.BaseOfImage = c.u64()
		mod.SizeOfImage = c.u32()
		mod.Checksum = c.u32()
		mod.TimeDateStamp = c.u32()
		nameRVA := c.u32()
		mod.VersionInfo = VersionInfo{
			Signature:        c.u32(),
			StrucVersion:     c.u32(),
			FileVersionMS:    c.u32(),
			FileVersionLS:    c.u32(),
			ProductVersionMS: c.u32(),
			ProductVersionLS: c.u32(),
			FileFlagsMask:    c.u32(),
			FileFlags:        c.u32(),
			FileOS:           c.u32(),
			FileType:         c.u32(),
			FileSubtype:      c.u32(),
			FileDateMS:       c.u32(),
			FileDateLS:       c.u32(),
		}
		cvLoc := c.location()
		miscLoc := c.location()
		c.skip(16) // reserved
		if c.err != nil {
			return nil, c.err
		}

		name, err := readString(m.data, nameRVA)
		if err != nil {
			return nil, fmt.Errorf("module %d name: %w", i, err)
		}
		mod.Name = name
		mod.CVRecord, _ = cvLoc.slice(m.data, "codeview record")
		mod.MiscRecord, _ = miscLoc.slice(m.data, "misc record")
		mod.identify()
	}
	return NewModuleList(modules), nil
}

// identify fills the debug and code identifiers from the CodeView record.
func (m *Module) identify() {
	if m.TimeDateStamp != 0 || m.SizeOfImage != 0 {
		m.CodeID = fmt.Sprintf("%08X%x", m.TimeDateStamp, m.SizeOfImage)
	}
	cv := m.CVRecord
	if len(cv) < 4 {
		return
	}
	le := binary.LittleEndian
	switch le.Uint32(cv) {
	case cvSignaturePDB70:
		if len(cv) < 24 {
			return
		}
		m.DebugID = formatGUID(cv[4:20]) + fmt.Sprintf("%X", le.Uint32(cv[20:]))
		m.DebugFile = basename(cString(cv[24:]))
	case cvSignaturePDB20:
		if len(cv) < 16 {
			return
		}
		m.DebugID = fmt.Sprintf("%08X%X", le.Uint32(cv[8:]), le.Uint32(cv[12:]))
		m.DebugFile = basename(cString(cv[16:]))
	case cvSignatureELF:
		buildID := cv[4:]
		if len(buildID) == 0 {
			return
		}
		m.CodeID = fmt.Sprintf("%x", buildID)
		guid := make([]byte, 16)
		copy(guid, buildID)
		m.DebugID = formatGUID(guid) + "0"
		m.DebugFile = m.Filename()
	}
}

// formatGUID renders a little-endian GUID the way Breakpad does, without
// separators.
func formatGUID(b []byte) string {
	le := binary.LittleEndian
	return fmt.Sprintf("%08X%04X%04X%X", le.Uint32(b), le.Uint16(b[4:]), le.Uint16(b[6:]), b[8:16])
}

func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func basename(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// UnloadedModule is one MINIDUMP_UNLOADED_MODULE.
type UnloadedModule struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	Checksum      uint32
	TimeDateStamp uint32
	Name          string
}

// End returns the first address past the image.
func (m *UnloadedModule) End() uint64 { return m.BaseOfImage + uint64(m.SizeOfImage) }

// UnloadedModuleList is the UnloadedModuleList stream.
type UnloadedModuleList struct {
	Modules []UnloadedModule
}

func (m *Minidump) readUnloadedModuleList() (*UnloadedModuleList, error) {
	data, err := m.RawStream(UnloadedModuleListStream)
	if err != nil {
		return nil, err
	}
	c := newCursor(data, "UnloadedModuleList stream")
	headerLen := c.u32()
	entryLen := c.u32()
	n := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if entryLen < unloadedModuleEntrySize || uint64(headerLen)+uint64(n)*uint64(entryLen) > uint64(len(data)) {
		return nil, streamTruncated("UnloadedModuleList stream", int(headerLen), int(min(uint64(n)*uint64(entryLen), 1<<31)), len(data))
	}

	list := &UnloadedModuleList{Modules: make([]UnloadedModule, 0, n)}
	for i := uint32(0); i < n; i++ {
		c.seek(int(headerLen) + int(i)*int(entryLen))
		mod := UnloadedModule{
			BaseOfImage:   c.u64(),
			SizeOfImage:   c.u32(),
			Checksum:      c.u32(),
			TimeDateStamp: c.u32(),
		}
		nameRVA := c.u32()
		if c.err != nil {
			return nil, c.err
		}
		mod.Name, _ = readString(m.data, nameRVA)
		list.Modules = append(list.Modules, mod)
	}
	return list, nil
}
