package stackwalk

import (
	"errors"

	"github.com/crash-analysis/internal/minidump"
)

// ErrNoSymbols is returned by a SymbolProvider that has no symbols for a
// module.
var ErrNoSymbols = errors.New("no symbols for module")

// SymbolProvider supplies function names and call frame information.
// Implementations must be safe for concurrent use.
type SymbolProvider interface {
	// FillSymbol sets the function and source fields of frame, which lies
	// in module. It returns ErrNoSymbols when the module has no symbols.
	FillSymbol(module *minidump.Module, frame *StackFrame) error
	// WalkFrame evaluates the CFI rules covering walker.Instruction() and
	// reports whether the caller's registers were recovered.
	WalkFrame(module *minidump.Module, walker CFIWalker) bool
	// FilePath returns the local symbol file of module.
	FilePath(module *minidump.Module) (string, error)
}

// CFIWalker gives a CFI evaluator access to the callee frame and collects
// the caller's registers.
type CFIWalker interface {
	Instruction() uint64
	PointerSize() int
	CalleeRegister(name string) (uint64, bool)
	SetCallerRegister(name string, value uint64) bool
	ClearCallerRegister(name string)
	// SetCFA sets the canonical frame address, which is the caller's
	// stack pointer.
	SetCFA(value uint64)
	// SetRA sets the return address, which is the caller's instruction
	// pointer.
	SetRA(value uint64)
	ReadMemory(addr uint64) (uint64, bool)
}

// NoSymbols is a SymbolProvider with no symbols at all.
type NoSymbols struct{}

func (NoSymbols) FillSymbol(*minidump.Module, *StackFrame) error { return ErrNoSymbols }
func (NoSymbols) WalkFrame(*minidump.Module, CFIWalker) bool      { return false }
func (NoSymbols) FilePath(*minidump.Module) (string, error)       { return "", ErrNoSymbols }
