package stackwalk

import (
	"github.com/crash-analysis/internal/minidump"
)

const (
	// DefaultMaxFrames bounds every walk.
	DefaultMaxFrames = 1024

	// Addresses in the first page are treated as the end of the stack.
	minValidIP = 4096
)

// Config holds what a Walker needs for one thread.
type Config struct {
	CPU     minidump.CPU
	OS      minidump.OS
	Stack   *minidump.MemoryRegion
	Modules *minidump.ModuleList
	Symbols SymbolProvider
	// MaxFrames defaults to DefaultMaxFrames.
	MaxFrames int
}

// Walker unwinds a single thread. It only reads its inputs, so walkers
// for different threads can run concurrently over shared data.
type Walker struct {
	arch      *Arch
	os        minidump.OS
	stack     *minidump.MemoryRegion
	modules   *minidump.ModuleList
	symbols   SymbolProvider
	maxFrames int
}

// NewWalker returns a walker, or minidump.ErrUnsupportedCPU.
func NewWalker(cfg Config) (*Walker, error) {
	arch, err := ArchFor(cfg.CPU)
	if err != nil {
		return nil, err
	}
	w := &Walker{
		arch:      arch,
		os:        cfg.OS,
		stack:     cfg.Stack,
		modules:   cfg.Modules,
		symbols:   cfg.Symbols,
		maxFrames: cfg.MaxFrames,
	}
	if w.symbols == nil {
		w.symbols = NoSymbols{}
	}
	if w.maxFrames <= 0 {
		w.maxFrames = DefaultMaxFrames
	}
	return w, nil
}

// Arch returns the walker's architecture.
func (w *Walker) Arch() *Arch { return w.arch }

// Walk returns the frames of the thread whose registers are ctx, innermost
// first.
func (w *Walker) Walk(ctx *minidump.Context) []StackFrame {
	first := w.ContextFrame(ctx)
	frames := []StackFrame{first}
	for len(frames) < w.maxFrames {
		caller := w.Caller(&frames[len(frames)-1])
		if caller == nil {
			break
		}
		frames = append(frames, *caller)
	}
	return frames
}

// ContextFrame builds the innermost frame from a saved context.
func (w *Walker) ContextFrame(ctx *minidump.Context) StackFrame {
	f := StackFrame{
		Registers: RegistersFromContext(w.arch, ctx),
		Trust:     TrustContext,
	}
	f.Instruction = f.IP()
	w.symbolize(&f)
	return f
}

// Caller computes the frame that called callee, or nil at the end of the
// stack. Strategies are tried in decreasing order of trust.
func (w *Walker) Caller(callee *StackFrame) *StackFrame {
	calleeSP, ok := callee.Registers.SP()
	if !ok {
		return nil
	}

	caller := w.callerByCFI(callee)
	if caller == nil {
		caller = w.callerByFramePointer(callee)
	}
	if caller == nil {
		caller = w.callerByScan(callee)
	}
	if caller == nil {
		return nil
	}

	ip, ipOK := caller.Registers.IP()
	sp, spOK := caller.Registers.SP()
	if !ipOK || !spOK || ip < minValidIP {
		return nil
	}
	// The stack grows down; a caller must sit strictly above its callee.
	if sp <= calleeSP {
		return nil
	}

	// Return addresses point past the call instruction.
	caller.Instruction = ip - 1
	w.symbolize(caller)
	return caller
}

func (w *Walker) symbolize(f *StackFrame) {
	f.Module = w.modules.ModuleAt(f.Instruction)
	if f.Module != nil {
		_ = w.symbols.FillSymbol(f.Module, f)
	}
}

func (w *Walker) readPointer(addr uint64) (uint64, bool) {
	return w.stack.ReadPointer(addr, w.arch.PointerSize)
}

// addPointers returns a + n pointer widths, failing on overflow of the
// architecture's address space.
func (w *Walker) addPointers(a uint64, n int) (uint64, bool) {
	delta := uint64(n * w.arch.PointerSize)
	sum := a + delta
	if sum < a {
		return 0, false
	}
	if w.arch.PointerSize == 4 && sum > 0xffffffff {
		return 0, false
	}
	return sum, true
}

// forwardCalleeSaved copies the callee-saved registers known in callee.
func (w *Walker) forwardCalleeSaved(callee *StackFrame) Registers {
	regs := NewRegisters(w.arch)
	for _, i := range w.arch.CalleeSaved {
		if v, ok := callee.Registers.Get(i); ok {
			regs.Set(i, v)
		}
	}
	return regs
}
