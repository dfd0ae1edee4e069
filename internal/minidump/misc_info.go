package minidump

import "time"

// MiscInfo flag bits.
const (
	MiscInfoProcessID    = 0x1
	MiscInfoProcessTimes = 0x2
)

// MiscInfo holds the process fields of MINIDUMP_MISC_INFO. Later revisions
// of the structure extend it; the extra fields are ignored.
type MiscInfo struct {
	SizeOfInfo        uint32
	Flags1            uint32
	ProcessID         uint32
	ProcessCreateTime uint32
	ProcessUserTime   uint32
	ProcessKernelTime uint32
}

// PID returns the process id if it was recorded.
func (m *MiscInfo) PID() (uint32, bool) {
	return m.ProcessID, m.Flags1&MiscInfoProcessID != 0
}

// CreateTime returns the process start time if it was recorded.
func (m *MiscInfo) CreateTime() (time.Time, bool) {
	if m.Flags1&MiscInfoProcessTimes == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(m.ProcessCreateTime), 0).UTC(), true
}

func (m *Minidump) readMiscInfo() (*MiscInfo, error) {
	data, err := m.RawStream(MiscInfoStream)
	if err != nil {
		return nil, err
	}
	c := newCursor(data, "MiscInfo stream")
	info := &MiscInfo{
		SizeOfInfo:        c.u32(),
		Flags1:            c.u32(),
		ProcessID:         c.u32(),
		ProcessCreateTime: c.u32(),
		ProcessUserTime:   c.u32(),
		ProcessKernelTime: c.u32(),
	}
	if c.err != nil {
		return nil, c.err
	}
	return info, nil
}

// BreakpadInfo validity bits.
const (
	BreakpadDumpThreadValid       = 0x1
	BreakpadRequestingThreadValid = 0x2
)

// BreakpadInfo identifies the thread that wrote the dump.
type BreakpadInfo struct {
	Validity           uint32
	DumpThreadID       uint32
	RequestingThreadID uint32
}

// DumpThread returns the id of the thread that wrote the dump, if known.
func (b *BreakpadInfo) DumpThread() (uint32, bool) {
	return b.DumpThreadID, b.Validity&BreakpadDumpThreadValid != 0
}

// RequestingThread returns the id of the thread that requested the dump.
func (b *BreakpadInfo) RequestingThread() (uint32, bool) {
	return b.RequestingThreadID, b.Validity&BreakpadRequestingThreadValid != 0
}

func (m *Minidump) readBreakpadInfo() (*BreakpadInfo, error) {
	data, err := m.RawStream(BreakpadInfoStream)
	if err != nil {
		return nil, err
	}
	c := newCursor(data, "BreakpadInfo stream")
	info := &BreakpadInfo{
		Validity:           c.u32(),
		DumpThreadID:       c.u32(),
		RequestingThreadID: c.u32(),
	}
	if c.err != nil {
		return nil, c.err
	}
	return info, nil
}
