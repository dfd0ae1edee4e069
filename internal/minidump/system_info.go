package minidump

import "fmt"

// CPU is the processor architecture of the crashed process.
type CPU int

// Architectures.
const (
	CPUUnknown CPU = iota
	CPUX86
	CPUAMD64
	CPUARM
	CPUARM64
	CPUPPC
	CPUPPC64
	CPUMIPS
	CPUSPARC
)

var cpuNames = map[CPU]string{
	CPUX86:   "x86",
	CPUAMD64: "amd64",
	CPUARM:   "arm",
	CPUARM64: "arm64",
	CPUPPC:   "ppc",
	CPUPPC64: "ppc64",
	CPUMIPS:  "mips",
	CPUSPARC: "sparc",
}

func (c CPU) String() string {
	if name, ok := cpuNames[c]; ok {
		return name
	}
	return "unknown"
}

// PointerSize returns the pointer width in bytes, or 0 if unknown.
func (c CPU) PointerSize() int {
	switch c {
	case CPUX86, CPUARM, CPUPPC, CPUMIPS, CPUSPARC:
		return 4
	case CPUAMD64, CPUARM64, CPUPPC64:
		return 8
	}
	return 0
}

// ProcessorArchitecture values of MINIDUMP_SYSTEM_INFO.
const (
	ArchX86       = 0
	ArchMIPS      = 1
	ArchPPC       = 3
	ArchARM       = 5
	ArchAMD64     = 9
	ArchARM64     = 12
	ArchSPARC     = 0x8001
	ArchPPC64     = 0x8002
	ArchARM64Old  = 0x8003
	ArchUnknown   = 0xffff
	systemInfoLen = 56
)

func cpuFromArch(arch uint16) CPU {
	switch arch {
	case ArchX86:
		return CPUX86
	case ArchAMD64:
		return CPUAMD64
	case ArchARM:
		return CPUARM
	case ArchARM64, ArchARM64Old:
		return CPUARM64
	case ArchPPC:
		return CPUPPC
	case ArchPPC64:
		return CPUPPC64
	case ArchMIPS:
		return CPUMIPS
	case ArchSPARC:
		return CPUSPARC
	}
	return CPUUnknown
}

// OS is the PlatformId of MINIDUMP_SYSTEM_INFO.
type OS uint32

// Platform ids, including the Breakpad extensions.
const (
	OSWin32s      OS = 0
	OSWin32Window OS = 1
	OSWindowsNT   OS = 2
	OSUnix        OS = 0x8000
	OSMacOS       OS = 0x8101
	OSIOS         OS = 0x8102
	OSLinux       OS = 0x8201
	OSSolaris     OS = 0x8202
	OSAndroid     OS = 0x8203
	OSPS3         OS = 0x8204
	OSNaCl        OS = 0x8205
	OSFuchsia     OS = 0x8206
)

var osNames = map[OS]string{
	OSWin32s:      "Windows 3.1",
	OSWin32Window: "Windows",
	OSWindowsNT:   "Windows NT",
	OSUnix:        "Unix",
	OSMacOS:       "Mac OS X",
	OSIOS:         "iOS",
	OSLinux:       "Linux",
	OSSolaris:     "Solaris",
	OSAndroid:     "Android",
	OSPS3:         "PS3",
	OSNaCl:        "NaCl",
	OSFuchsia:     "Fuchsia",
}

func (o OS) String() string {
	if name, ok := osNames[o]; ok {
		return name
	}
	return "Unknown"
}

// IsWindows reports whether o is a Windows platform.
func (o OS) IsWindows() bool {
	return o <= OSWindowsNT
}

// IsApple reports whether o is macOS or iOS.
func (o OS) IsApple() bool {
	return o == OSMacOS || o == OSIOS
}

// IsLinux reports whether o uses Linux signal semantics.
func (o OS) IsLinux() bool {
	return o == OSLinux || o == OSAndroid
}

// SystemInfo is the decoded MINIDUMP_SYSTEM_INFO.
type SystemInfo struct {
	ProcessorArchitecture uint16
	ProcessorLevel        uint16
	ProcessorRevision     uint16
	NumberOfProcessors    uint8
	ProductType           uint8
	MajorVersion          uint32
	MinorVersion          uint32
	BuildNumber           uint32
	PlatformID            OS
	CSDVersion            string
	CPU                   CPU
}

// OSVersion returns "major.minor.build".
func (s *SystemInfo) OSVersion() string {
	return fmt.Sprintf("%d.%d.%d", s.MajorVersion, s.MinorVersion, s.BuildNumber)
}

func (m *Minidump) readSystemInfo() (*SystemInfo, error) {
	data, err := m.RawStream(SystemInfoStream)
	if err != nil {
		return nil, err
	}
	c := newCursor(data, "SystemInfo stream")
	if len(data) < systemInfoLen {
		return nil, streamTruncated("SystemInfo stream", 0, systemInfoLen, len(data))
	}
	s := &SystemInfo{
		ProcessorArchitecture: c.u16(),
		ProcessorLevel:        c.u16(),
		ProcessorRevision:     c.u16(),
		NumberOfProcessors:    c.u8(),
		ProductType:           c.u8(),
		MajorVersion:          c.u32(),
		MinorVersion:          c.u32(),
		BuildNumber:           c.u32(),
		PlatformID:            OS(c.u32()),
	}
	csdRVA := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	s.CPU = cpuFromArch(s.ProcessorArchitecture)
	if csdRVA != 0 {
		// Best effort; the service pack string is informational.
		s.CSDVersion, _ = readString(m.data, csdRVA)
	}
	return s, nil
}
