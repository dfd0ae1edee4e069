package testutil

import (
	"encoding/binary"
	"sort"
	"unicode/utf16"

	"github.com/crash-analysis/internal/minidump"
)

// ThreadSpec describes a thread for MinidumpBuilder.
type ThreadSpec struct {
	ID        uint32
	StackBase uint64
	Stack     []byte
	Context   *minidump.Context
	Name      string
}

// ModuleSpec describes a loaded module for MinidumpBuilder.
type ModuleSpec struct {
	Base          uint64
	Size          uint32
	Name          string
	TimeDateStamp uint32
	Version       [4]uint16

	// PDB, GUID and Age produce an RSDS CodeView record when PDB is set.
	PDB  string
	GUID [16]byte
	Age  uint32
	// BuildID produces a BpEL record.
	BuildID []byte
}

// ExceptionSpec describes the Exception stream.
type ExceptionSpec struct {
	ThreadID uint32
	Code     uint32
	Flags    uint32
	Address  uint64
	Params   []uint64
	Context  *minidump.Context
}

type rawStream struct {
	kind minidump.StreamType
	data []byte
}

// MinidumpBuilder assembles a synthetic minidump for tests.
type MinidumpBuilder struct {
	arch uint16
	os   minidump.OS

	omitSystemInfo  bool
	breakpadPadding bool

	exception    *ExceptionSpec
	threads      []ThreadSpec
	modules      []ModuleSpec
	unloaded     []ModuleSpec
	memory       []minidump.MemoryRegion
	memory64     []minidump.MemoryRegion
	pid          *uint32
	breakpadInfo *minidump.BreakpadInfo
	raw          []rawStream
}

// NewMinidumpBuilder starts a dump for the given ProcessorArchitecture and
// platform.
func NewMinidumpBuilder(arch uint16, os minidump.OS) *MinidumpBuilder {
	return &MinidumpBuilder{arch: arch, os: os}
}

// WithoutSystemInfo omits the SystemInfo stream.
func (b *MinidumpBuilder) WithoutSystemInfo() *MinidumpBuilder {
	b.omitSystemInfo = true
	return b
}

// WithBreakpadPadding writes array streams with 4 padding bytes after the
// count.
func (b *MinidumpBuilder) WithBreakpadPadding() *MinidumpBuilder {
	b.breakpadPadding = true
	return b
}

// WithException sets the Exception stream.
func (b *MinidumpBuilder) WithException(e ExceptionSpec) *MinidumpBuilder {
	b.exception = &e
	return b
}

// AddThread appends a thread. Its stack is also listed in MemoryList.
func (b *MinidumpBuilder) AddThread(t ThreadSpec) *MinidumpBuilder {
	b.threads = append(b.threads, t)
	return b
}

// AddModule appends a loaded module.
func (b *MinidumpBuilder) AddModule(m ModuleSpec) *MinidumpBuilder {
	b.modules = append(b.modules, m)
	return b
}

// AddUnloadedModule appends an unloaded module.
func (b *MinidumpBuilder) AddUnloadedModule(m ModuleSpec) *MinidumpBuilder {
	b.unloaded = append(b.unloaded, m)
	return b
}

// AddMemory adds a MemoryList range.
func (b *MinidumpBuilder) AddMemory(base uint64, data []byte) *MinidumpBuilder {
	b.memory = append(b.memory, minidump.MemoryRegion{Base: base, Data: data})
	return b
}

// AddMemory64 adds a Memory64List range.
func (b *MinidumpBuilder) AddMemory64(base uint64, data []byte) *MinidumpBuilder {
	b.memory64 = append(b.memory64, minidump.MemoryRegion{Base: base, Data: data})
	return b
}

// WithPID adds a MiscInfo stream recording pid.
func (b *MinidumpBuilder) WithPID(pid uint32) *MinidumpBuilder {
	b.pid = &pid
	return b
}

// WithBreakpadInfo adds the Breakpad info stream.
func (b *MinidumpBuilder) WithBreakpadInfo(dumpThread, requestingThread uint32) *MinidumpBuilder {
	b.breakpadInfo = &minidump.BreakpadInfo{
		Validity:           minidump.BreakpadDumpThreadValid | minidump.BreakpadRequestingThreadValid,
		DumpThreadID:       dumpThread,
		RequestingThreadID: requestingThread,
	}
	return b
}

// AddRawStream appends a stream with arbitrary contents.
func (b *MinidumpBuilder) AddRawStream(t minidump.StreamType, data []byte) *MinidumpBuilder {
	b.raw = append(b.raw, rawStream{kind: t, data: data})
	return b
}

// dumpWriter appends blobs to a growing file image.
type dumpWriter struct {
	out []byte
}

func (w *dumpWriter) alloc(data []byte) minidump.Location {
	// Keep blobs 4-byte aligned.
	for len(w.out)%4 != 0 {
		w.out = append(w.out, 0)
	}
	loc := minidump.Location{DataSize: uint32(len(data)), RVA: uint32(len(w.out))}
	w.out = append(w.out, data...)
	return loc
}

func (w *dumpWriter) str(s string) uint32 {
	units := utf16.Encode([]rune(s))
	b := le32(nil, uint32(2*len(units)))
	for _, u := range units {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	b = append(b, 0, 0)
	return w.alloc(b).RVA
}

func le32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }
func le64(b []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(b, v) }
func loc(b []byte, l minidump.Location) []byte {
	return le32(le32(b, l.DataSize), l.RVA)
}

func (b *MinidumpBuilder) arrayHeader(n int) []byte {
	h := le32(nil, uint32(n))
	if b.breakpadPadding {
		h = le32(h, 0)
	}
	return h
}

// Bytes encodes the dump.
func (b *MinidumpBuilder) Bytes() []byte {
	type dirEntry struct {
		kind minidump.StreamType
		loc  minidump.Location
	}
	var streams []func(w *dumpWriter) dirEntry

	if !b.omitSystemInfo {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			// arch, level, revision, processor count, product type
			s := binary.LittleEndian.AppendUint16(nil, b.arch)
			s = append(s, 6, 0, 1, 0, 4, 1)
			// major, minor, build, platform, CSD version
			s = le32(s, 10)
			s = le32(s, 0)
			s = le32(s, 19045)
			s = le32(s, uint32(b.os))
			s = le32(s, 0)
			s = append(s, make([]byte, 28)...)
			return dirEntry{minidump.SystemInfoStream, w.alloc(s)}
		})
	}

	if b.exception != nil {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			e := b.exception
			var ctxLoc minidump.Location
			if e.Context != nil {
				ctxLoc = w.alloc(e.Context.Bytes())
			}
			s := le32(nil, e.ThreadID)
			s = le32(s, 0)
			s = le32(s, e.Code)
			s = le32(s, e.Flags)
			s = le64(s, 0)
			s = le64(s, e.Address)
			s = le32(s, uint32(len(e.Params)))
			s = le32(s, 0)
			for i := 0; i < 15; i++ {
				var p uint64
				if i < len(e.Params) {
					p = e.Params[i]
				}
				s = le64(s, p)
			}
			s = loc(s, ctxLoc)
			return dirEntry{minidump.ExceptionStream, w.alloc(s)}
		})
	}

	var stackRanges []minidump.Location
	if len(b.threads) > 0 {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			s := b.arrayHeader(len(b.threads))
			stackRanges = make([]minidump.Location, len(b.threads))
			for i, t := range b.threads {
				var stackLoc, ctxLoc minidump.Location
				if len(t.Stack) > 0 {
					stackLoc = w.alloc(t.Stack)
				}
				stackRanges[i] = stackLoc
				if t.Context != nil {
					ctxLoc = w.alloc(t.Context.Bytes())
				}
				s = le32(s, t.ID)
				s = le32(s, 0)
				s = le32(s, 0)
				s = le32(s, 0)
				s = le64(s, 0)
				s = le64(s, t.StackBase)
				s = loc(s, stackLoc)
				s = loc(s, ctxLoc)
			}
			return dirEntry{minidump.ThreadListStream, w.alloc(s)}
		})
	}

	if len(b.modules) > 0 {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			s := b.arrayHeader(len(b.modules))
			for _, m := range b.modules {
				name := w.str(m.Name)
				var cv minidump.Location
				switch {
				case m.PDB != "":
					rec := le32(nil, 0x53445352)
					rec = append(rec, m.GUID[:]...)
					rec = le32(rec, m.Age)
					rec = append(append(rec, m.PDB...), 0)
					cv = w.alloc(rec)
				case len(m.BuildID) > 0:
					cv = w.alloc(append(le32(nil, 0x4270454c), m.BuildID...))
				}
				s = le64(s, m.Base)
				s = le32(s, m.Size)
				s = le32(s, 0)
				s = le32(s, m.TimeDateStamp)
				s = le32(s, name)
				var fixed [13]uint32
				if m.Version != [4]uint16{} {
					fixed[0] = 0xfeef04bd
					fixed[2] = uint32(m.Version[0])<<16 | uint32(m.Version[1])
					fixed[3] = uint32(m.Version[2])<<16 | uint32(m.Version[3])
				}
				for _, v := range fixed {
					s = le32(s, v)
				}
				s = loc(s, cv)
				s = loc(s, minidump.Location{})
				s = append(s, make([]byte, 16)...)
			}
			return dirEntry{minidump.ModuleListStream, w.alloc(s)}
		})
	}

	if len(b.unloaded) > 0 {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			s := le32(nil, 12)
			s = le32(s, 24)
			s = le32(s, uint32(len(b.unloaded)))
			for _, m := range b.unloaded {
				name := w.str(m.Name)
				s = le64(s, m.Base)
				s = le32(s, m.Size)
				s = le32(s, 0)
				s = le32(s, m.TimeDateStamp)
				s = le32(s, name)
			}
			return dirEntry{minidump.UnloadedModuleListStream, w.alloc(s)}
		})
	}

	// Runs after the thread list so stack ranges are known.
	if len(b.memory) > 0 || len(b.threads) > 0 {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			type rng struct {
				base uint64
				loc  minidump.Location
			}
			var ranges []rng
			for i, t := range b.threads {
				if i < len(stackRanges) && stackRanges[i].DataSize > 0 {
					ranges = append(ranges, rng{t.StackBase, stackRanges[i]})
				}
			}
			for _, r := range b.memory {
				ranges = append(ranges, rng{r.Base, w.alloc(r.Data)})
			}
			sort.Slice(ranges, func(i, j int) bool { return ranges[i].base < ranges[j].base })
			s := b.arrayHeader(len(ranges))
			for _, r := range ranges {
				s = le64(s, r.base)
				s = loc(s, r.loc)
			}
			return dirEntry{minidump.MemoryListStream, w.alloc(s)}
		})
	}

	if len(b.memory64) > 0 {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			var body []byte
			for _, r := range b.memory64 {
				body = append(body, r.Data...)
			}
			data := w.alloc(body)
			s := le64(nil, uint64(len(b.memory64)))
			s = le64(s, uint64(data.RVA))
			for _, r := range b.memory64 {
				s = le64(s, r.Base)
				s = le64(s, uint64(len(r.Data)))
			}
			return dirEntry{minidump.Memory64ListStream, w.alloc(s)}
		})
	}

	if b.pid != nil {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			s := le32(nil, 24)
			s = le32(s, minidump.MiscInfoProcessID)
			s = le32(s, *b.pid)
			s = append(s, make([]byte, 12)...)
			return dirEntry{minidump.MiscInfoStream, w.alloc(s)}
		})
	}

	named := 0
	for _, t := range b.threads {
		if t.Name != "" {
			named++
		}
	}
	if named > 0 {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			s := le32(nil, uint32(named))
			for _, t := range b.threads {
				if t.Name == "" {
					continue
				}
				s = le32(s, t.ID)
				s = le64(s, uint64(w.str(t.Name)))
			}
			return dirEntry{minidump.ThreadNamesStream, w.alloc(s)}
		})
	}

	if b.breakpadInfo != nil {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			s := le32(nil, b.breakpadInfo.Validity)
			s = le32(s, b.breakpadInfo.DumpThreadID)
			s = le32(s, b.breakpadInfo.RequestingThreadID)
			return dirEntry{minidump.BreakpadInfoStream, w.alloc(s)}
		})
	}

	for _, r := range b.raw {
		streams = append(streams, func(w *dumpWriter) dirEntry {
			return dirEntry{r.kind, w.alloc(r.data)}
		})
	}

	dirRVA := uint32(32)
	w := &dumpWriter{out: make([]byte, 32+12*len(streams))}
	entries := make([]dirEntry, len(streams))
	for i, build := range streams {
		entries[i] = build(w)
	}

	le := binary.LittleEndian
	le.PutUint32(w.out[0:], 0x504d444d)
	le.PutUint32(w.out[4:], 0xa793)
	le.PutUint32(w.out[8:], uint32(len(streams)))
	le.PutUint32(w.out[12:], dirRVA)
	le.PutUint32(w.out[20:], 1700000000)
	for i, e := range entries {
		off := int(dirRVA) + 12*i
		le.PutUint32(w.out[off:], uint32(e.kind))
		le.PutUint32(w.out[off+4:], e.loc.DataSize)
		le.PutUint32(w.out[off+8:], e.loc.RVA)
	}
	return w.out
}

// Parse builds and parses the dump.
func (b *MinidumpBuilder) Parse() (*minidump.Minidump, error) {
	return minidump.Parse(b.Bytes())
}

// LinuxSegfault returns an amd64 Linux dump of thread 5 faulting inside the
// module "crashy" at 0x401000.
func LinuxSegfault() []byte {
	regs := make([]uint64, 17)
	regs[16], regs[7] = 0x401000, 0x10000
	ctx := &minidump.Context{CPU: minidump.CPUAMD64, Registers: regs}
	return NewMinidumpBuilder(minidump.ArchAMD64, minidump.OSLinux).
		AddModule(ModuleSpec{Base: 0x400000, Size: 0x10000, Name: "crashy"}).
		AddThread(ThreadSpec{ID: 5, StackBase: 0x10000, Stack: make([]byte, 64), Context: ctx}).
		WithException(ExceptionSpec{ThreadID: 5, Code: 11, Flags: 1, Context: ctx}).
		Bytes()
}
