package stackwalk

import "github.com/crash-analysis/internal/minidump"

// Registers is a register file with a validity bit per register.
type Registers struct {
	arch   *Arch
	values [maxRegisters]uint64
	valid  uint64
}

// NewRegisters returns an empty register file for arch.
func NewRegisters(arch *Arch) Registers {
	return Registers{arch: arch}
}

// RegistersFromContext returns a register file with every context
// register marked valid.
func RegistersFromContext(arch *Arch, ctx *minidump.Context) Registers {
	r := NewRegisters(arch)
	for i, v := range ctx.Registers {
		if i < len(arch.Names) {
			r.Set(i, v)
		}
	}
	return r
}

// Arch returns the architecture the registers belong to.
func (r *Registers) Arch() *Arch { return r.arch }

// Get returns register i and whether it is known.
func (r *Registers) Get(i int) (uint64, bool) {
	if i < 0 || i >= maxRegisters || r.valid&(1<<i) == 0 {
		return 0, false
	}
	return r.values[i], true
}

// Set stores v in register i.
func (r *Registers) Set(i int, v uint64) {
	if i < 0 || i >= maxRegisters {
		return
	}
	r.values[i] = v
	r.valid |= 1 << i
}

// Clear marks register i unknown.
func (r *Registers) Clear(i int) {
	if i >= 0 && i < maxRegisters {
		r.valid &^= 1 << i
	}
}

// Lookup returns the named register.
func (r *Registers) Lookup(name string) (uint64, bool) {
	return r.Get(r.arch.Index(name))
}

// Validity is the bitmask of known registers.
func (r *Registers) Validity() uint64 { return r.valid }

// IP returns the instruction pointer.
func (r *Registers) IP() (uint64, bool) { return r.Get(r.arch.IP) }

// SP returns the stack pointer.
func (r *Registers) SP() (uint64, bool) { return r.Get(r.arch.SP) }

// FP returns the frame pointer.
func (r *Registers) FP() (uint64, bool) { return r.Get(r.arch.FP) }

// StackFrame is one recovered frame.
type StackFrame struct {
	// Instruction is the address used for symbol and CFI lookups. It is the
	// instruction pointer for the context frame and the return address
	// minus one for callers.
	Instruction uint64
	Registers   Registers
	Trust       Trust

	Module         *minidump.Module
	Function       string
	FunctionBase   uint64
	SourceFile     string
	SourceLine     int
	ParameterBytes int
}

// IP returns the frame's instruction pointer.
func (f *StackFrame) IP() uint64 {
	ip, _ := f.Registers.IP()
	return ip
}

// SP returns the frame's stack pointer.
func (f *StackFrame) SP() uint64 {
	sp, _ := f.Registers.SP()
	return sp
}

// CallStack is the unwound stack of one thread.
type CallStack struct {
	ThreadID   uint32
	ThreadName string
	Status     CallStackInfo
	Frames     []StackFrame
}
