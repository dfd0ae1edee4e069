package stackwalk

import (
	"fmt"

	"github.com/crash-analysis/internal/minidump"
)

// maxRegisters bounds the register file of every supported architecture.
const maxRegisters = 33

// Arch describes the unwinding-relevant properties of a CPU.
type Arch struct {
	CPU         minidump.CPU
	PointerSize int
	Names       []string

	// IP, SP and FP index Names.
	IP, SP, FP int
	// CalleeSaved registers keep their value across a call unless CFI
	// says otherwise.
	CalleeSaved []int

	canonical func(uint64) bool
}

var (
	archAMD64 = &Arch{
		CPU:         minidump.CPUAMD64,
		PointerSize: 8,
		Names:       minidump.RegisterNames(minidump.CPUAMD64),
		IP:          16,
		SP:          7,
		FP:          6,
		CalleeSaved: []int{3, 6, 12, 13, 14, 15},
		canonical:   canonical48,
	}
	archX86 = &Arch{
		CPU:         minidump.CPUX86,
		PointerSize: 4,
		Names:       minidump.RegisterNames(minidump.CPUX86),
		IP:          8,
		SP:          4,
		FP:          5,
		CalleeSaved: []int{3, 5, 6, 7},
		canonical:   func(addr uint64) bool { return addr <= 0xffffffff },
	}
	archARM64 = &Arch{
		CPU:         minidump.CPUARM64,
		PointerSize: 8,
		Names:       minidump.RegisterNames(minidump.CPUARM64),
		IP:          32,
		SP:          31,
		FP:          29,
		CalleeSaved: []int{19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29},
		canonical:   canonical48,
	}
)

// canonical48 rejects the hole between the lower and upper halves of a
// 48-bit virtual address space.
func canonical48(addr uint64) bool {
	return addr <= 0x00007fffffffffff || addr >= 0xffff800000000000
}

// ArchFor returns the description of cpu.
func ArchFor(cpu minidump.CPU) (*Arch, error) {
	switch cpu {
	case minidump.CPUAMD64:
		return archAMD64, nil
	case minidump.CPUX86:
		return archX86, nil
	case minidump.CPUARM64:
		return archARM64, nil
	}
	return nil, fmt.Errorf("%w: %s", minidump.ErrUnsupportedCPU, cpu)
}

// Canonical reports whether addr is a valid virtual address for the
// architecture.
func (a *Arch) Canonical(addr uint64) bool {
	return a.canonical(addr)
}

// Index returns the index of the named register, or -1.
func (a *Arch) Index(name string) int {
	for i, n := range a.Names {
		if n == name {
			return i
		}
	}
	return -1
}
