package stackwalk

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crash-analysis/internal/minidump"
)

const (
	stackBase  = 0x10000
	moduleBase = 0x400000
	moduleSize = 0x10000
)

type fakeStack struct {
	region *minidump.MemoryRegion
	ptr    int
}

func newFakeStack(size, ptr int) *fakeStack {
	return &fakeStack{region: &minidump.MemoryRegion{Base: stackBase, Data: make([]byte, size)}, ptr: ptr}
}

func (s *fakeStack) put(addr, v uint64) {
	off := addr - s.region.Base
	if s.ptr == 4 {
		binary.LittleEndian.PutUint32(s.region.Data[off:], uint32(v))
		return
	}
	binary.LittleEndian.PutUint64(s.region.Data[off:], v)
}

func testModules() *minidump.ModuleList {
	return minidump.NewModuleList([]minidump.Module{
		{BaseOfImage: moduleBase, SizeOfImage: moduleSize, Name: "app"},
	})
}

func amd64Context(ip, sp, bp uint64) *minidump.Context {
	regs := make([]uint64, 17)
	regs[16], regs[7], regs[6] = ip, sp, bp
	regs[3] = 0xb0b
	return &minidump.Context{CPU: minidump.CPUAMD64, Registers: regs}
}

func newTestWalker(t *testing.T, os minidump.OS, stack *fakeStack, symbols SymbolProvider) *Walker {
	t.Helper()
	w, err := NewWalker(Config{
		CPU:     minidump.CPUAMD64,
		OS:      os,
		Stack:   stack.region,
		Modules: testModules(),
		Symbols: symbols,
	})
	require.NoError(t, err)
	return w
}

func TestCallerByFramePointer(t *testing.T) {
	stack := newFakeStack(0x100, 8)
	bp := uint64(stackBase + 0x20)
	stack.put(bp, stackBase+0x80)
	stack.put(bp+8, moduleBase+0x1234)

	w := newTestWalker(t, minidump.OSLinux, stack, nil)
	callee := w.ContextFrame(amd64Context(moduleBase+0x100, stackBase, bp))

	caller := w.Caller(&callee)
	require.NotNil(t, caller)
	assert.Equal(t, TrustFramePointer, caller.Trust)
	assert.Equal(t, uint64(moduleBase+0x1234), caller.IP())
	assert.Equal(t, bp+16, caller.SP())
	fp, ok := caller.Registers.FP()
	assert.True(t, ok)
	assert.Equal(t, uint64(stackBase+0x80), fp)
	assert.Equal(t, uint64(moduleBase+0x1233), caller.Instruction)
	assert.Equal(t, "app", caller.Module.Name)

	rbx, ok := caller.Registers.Get(3)
	assert.True(t, ok, "callee-saved registers are forwarded")
	assert.Equal(t, uint64(0xb0b), rbx)
}

func TestCallerByFramePointer_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		savedBP  uint64
		returnIP uint64
		bp       uint64
	}{
		{"saved bp below caller sp", stackBase + 0x10, moduleBase + 0x10, stackBase + 0x20},
		{"saved bp outside stack", 0x90000, moduleBase + 0x10, stackBase + 0x20},
		{"zero saved bp", 0, moduleBase + 0x10, stackBase + 0x20},
		{"non-canonical ip", stackBase + 0x80, 0x0000900000000000, stackBase + 0x20},
		{"bp outside stack", stackBase + 0x80, moduleBase + 0x10, 0x90000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := newFakeStack(0x100, 8)
			if stack.region.Contains(tt.bp + 8) {
				stack.put(tt.bp, tt.savedBP)
				stack.put(tt.bp+8, tt.returnIP)
			}
			w := newTestWalker(t, minidump.OSLinux, stack, nil)
			callee := w.ContextFrame(amd64Context(moduleBase, stackBase, tt.bp))
			assert.Nil(t, w.callerByFramePointer(&callee))
		})
	}
}

func TestCallerByFramePointer_SkippedOnWindowsAMD64(t *testing.T) {
	stack := newFakeStack(0x100, 8)
	bp := uint64(stackBase + 0x20)
	stack.put(bp, stackBase+0x80)
	stack.put(bp+8, moduleBase+0x1234)

	w := newTestWalker(t, minidump.OSWindowsNT, stack, nil)
	callee := w.ContextFrame(amd64Context(moduleBase+0x100, stackBase, bp))
	assert.Nil(t, w.callerByFramePointer(&callee))

	caller := w.Caller(&callee)
	require.NotNil(t, caller)
	assert.Equal(t, TrustScan, caller.Trust)
	assert.Equal(t, uint64(moduleBase+0x1234), caller.IP())
	assert.Equal(t, bp+16, caller.SP())
	fp, ok := caller.Registers.FP()
	assert.True(t, ok, "saved frame pointer below the return address")
	assert.Equal(t, uint64(stackBase+0x80), fp)
}

func TestCallerByFramePointer_X86(t *testing.T) {
	stack := newFakeStack(0x100, 4)
	bp := uint64(stackBase + 0x10)
	stack.put(bp, stackBase+0x40)
	stack.put(bp+4, moduleBase+0x44)

	w, err := NewWalker(Config{CPU: minidump.CPUX86, OS: minidump.OSWindowsNT, Stack: stack.region, Modules: testModules()})
	require.NoError(t, err)
	ctx := &minidump.Context{CPU: minidump.CPUX86, Registers: []uint64{0, 0, 0, 0, stackBase, bp, 0, 0, moduleBase}}

	callee := w.ContextFrame(ctx)
	caller := w.Caller(&callee)
	require.NotNil(t, caller)
	assert.Equal(t, TrustFramePointer, caller.Trust)
	assert.Equal(t, uint64(moduleBase+0x44), caller.IP())
	assert.Equal(t, bp+8, caller.SP())
}

func TestCallerByScan_Candidates(t *testing.T) {
	stack := newFakeStack(0x400, 8)
	stack.put(stackBase+0x00, 0x0000800000001000) // non-canonical
	stack.put(stackBase+0x08, 0x500000)           // outside every module
	stack.put(stackBase+0x10, 0x20)               // first page
	stack.put(stackBase+0x18, moduleBase+0x500)

	w := newTestWalker(t, minidump.OSWindowsNT, stack, nil)
	callee := w.ContextFrame(amd64Context(moduleBase, stackBase, 0))

	caller := w.callerByScan(&callee)
	require.NotNil(t, caller)
	assert.Equal(t, uint64(moduleBase+0x500), caller.IP())
	assert.Equal(t, uint64(stackBase+0x20), caller.SP())
	_, ok := caller.Registers.FP()
	assert.False(t, ok)
}

func TestCallerByScan_Window(t *testing.T) {
	stack := newFakeStack(0x800, 8)
	stack.put(stackBase+45*8, moduleBase+0x10)

	w := newTestWalker(t, minidump.OSWindowsNT, stack, nil)

	context := w.ContextFrame(amd64Context(moduleBase, stackBase, 0))
	assert.NotNil(t, w.callerByScan(&context), "the context frame scans 160 slots")

	scanned := StackFrame{Registers: context.Registers, Trust: TrustScan}
	assert.Nil(t, w.callerByScan(&scanned), "other frames scan 40 slots")
}

func TestCallerByScan_ForwardsCalleeFramePointer(t *testing.T) {
	stack := newFakeStack(0x400, 8)
	stack.put(stackBase+0x08, moduleBase+0x10)

	w := newTestWalker(t, minidump.OSWindowsNT, stack, nil)

	callee := w.ContextFrame(amd64Context(moduleBase, stackBase, stackBase+0x200))
	caller := w.callerByScan(&callee)
	require.NotNil(t, caller)
	fp, ok := caller.Registers.FP()
	assert.True(t, ok)
	assert.Equal(t, uint64(stackBase+0x200), fp)

	callee = w.ContextFrame(amd64Context(moduleBase, stackBase, stackBase+0x08))
	caller = w.callerByScan(&callee)
	require.NotNil(t, caller)
	_, ok = caller.Registers.FP()
	assert.False(t, ok, "callee fp below the caller's sp is dropped")
}

type fakeSymbols struct {
	functions map[uint64]string // function start -> name, each 0x100 long
	cfi       func(CFIWalker) bool
}

func (f *fakeSymbols) FillSymbol(_ *minidump.Module, frame *StackFrame) error {
	if f.functions == nil {
		return ErrNoSymbols
	}
	for base, name := range f.functions {
		if frame.Instruction >= base && frame.Instruction < base+0x100 {
			frame.Function, frame.FunctionBase = name, base
		}
	}
	return nil
}

func (f *fakeSymbols) WalkFrame(_ *minidump.Module, w CFIWalker) bool {
	if f.cfi == nil {
		return false
	}
	return f.cfi(w)
}

func (f *fakeSymbols) FilePath(*minidump.Module) (string, error) { return "", ErrNoSymbols }

func TestCallerByScan_RequiresFunctionWhenSymbolized(t *testing.T) {
	stack := newFakeStack(0x400, 8)
	stack.put(stackBase+0x00, moduleBase+0x2010) // in module, no function
	stack.put(stackBase+0x08, moduleBase+0x1010)

	symbols := &fakeSymbols{functions: map[uint64]string{moduleBase + 0x1000: "run"}}
	w := newTestWalker(t, minidump.OSWindowsNT, stack, symbols)
	callee := w.ContextFrame(amd64Context(moduleBase, stackBase, 0))

	caller := w.Caller(&callee)
	require.NotNil(t, caller)
	assert.Equal(t, uint64(moduleBase+0x1010), caller.IP())
	assert.Equal(t, "run", caller.Function)
}

func TestCallerByCFI(t *testing.T) {
	stack := newFakeStack(0x100, 8)
	stack.put(stackBase+0x18, moduleBase+0x777)

	symbols := &fakeSymbols{cfi: func(w CFIWalker) bool {
		rsp, ok := w.CalleeRegister("rsp")
		if !ok {
			return false
		}
		cfa := rsp + 0x20
		ra, ok := w.ReadMemory(cfa - 8)
		if !ok {
			return false
		}
		w.SetCFA(cfa)
		w.SetRA(ra)
		w.ClearCallerRegister("rbx")
		return w.SetCallerRegister("rbp", 0x1234)
	}}
	w := newTestWalker(t, minidump.OSWindowsNT, stack, symbols)
	callee := w.ContextFrame(amd64Context(moduleBase+0x10, stackBase, 0))

	caller := w.Caller(&callee)
	require.NotNil(t, caller)
	assert.Equal(t, TrustCFI, caller.Trust)
	assert.Equal(t, uint64(moduleBase+0x777), caller.IP())
	assert.Equal(t, uint64(stackBase+0x20), caller.SP())
	fp, _ := caller.Registers.FP()
	assert.Equal(t, uint64(0x1234), fp)
	_, ok := caller.Registers.Get(3)
	assert.False(t, ok)
}

func TestWalk_EndsOnFirstPage(t *testing.T) {
	stack := newFakeStack(0x100, 8)
	bp := uint64(stackBase + 0x20)
	stack.put(bp, stackBase+0x40)
	stack.put(bp+8, moduleBase+0x1234)
	stack.put(stackBase+0x40, stackBase+0x80)
	stack.put(stackBase+0x48, 0x10)

	w := newTestWalker(t, minidump.OSLinux, stack, nil)
	frames := w.Walk(amd64Context(moduleBase+0x100, stackBase, bp))
	require.Len(t, frames, 2)
	assert.Equal(t, TrustContext, frames[0].Trust)
	assert.Equal(t, uint64(moduleBase+0x100), frames[0].Instruction)
	assert.Equal(t, TrustFramePointer, frames[1].Trust)
}

func TestWalk_MaxFrames(t *testing.T) {
	stack := newFakeStack(0x1000, 8)
	for bp := uint64(stackBase); bp+0x20 < stackBase+0x1000; bp += 0x10 {
		stack.put(bp, bp+0x10)
		stack.put(bp+8, moduleBase+0x100)
	}

	w, err := NewWalker(Config{
		CPU: minidump.CPUAMD64, OS: minidump.OSLinux,
		Stack: stack.region, Modules: testModules(), MaxFrames: 5,
	})
	require.NoError(t, err)
	frames := w.Walk(amd64Context(moduleBase, stackBase, stackBase))
	assert.Len(t, frames, 5)
}

func TestWalk_StackPointerIncreases(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 50; run++ {
		stack := newFakeStack(0x2000, 8)
		for addr := uint64(stackBase); addr < stackBase+0x2000; addr += 8 {
			switch rng.Intn(4) {
			case 0:
				stack.put(addr, moduleBase+uint64(rng.Intn(moduleSize)))
			case 1:
				stack.put(addr, stackBase+uint64(rng.Intn(0x2000)))
			case 2:
				stack.put(addr, rng.Uint64())
			}
		}
		w := newTestWalker(t, minidump.OSLinux, stack, nil)
		frames := w.Walk(amd64Context(moduleBase, stackBase, stackBase+uint64(rng.Intn(0x2000))))

		for i := 1; i < len(frames); i++ {
			assert.Greater(t, frames[i].SP(), frames[i-1].SP())
			if frames[i].Trust == TrustScan {
				assert.True(t, w.arch.Canonical(frames[i].IP()))
				assert.NotNil(t, w.modules.ModuleAt(frames[i].IP()))
			}
		}
	}
}

func TestNewWalker_UnsupportedCPU(t *testing.T) {
	_, err := NewWalker(Config{CPU: minidump.CPUMIPS})
	assert.ErrorIs(t, err, minidump.ErrUnsupportedCPU)
}

func TestCanonical(t *testing.T) {
	assert.True(t, archAMD64.Canonical(0x00007fffffffffff))
	assert.False(t, archAMD64.Canonical(0x0000800000000000))
	assert.False(t, archAMD64.Canonical(0xffff7fffffffffff))
	assert.True(t, archAMD64.Canonical(0xffff800000000000))
	assert.True(t, archX86.Canonical(0xffffffff))
	assert.False(t, archX86.Canonical(0x100000000))
}

func TestTrustAndStatusText(t *testing.T) {
	b, err := TrustFramePointer.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "frame_pointer", string(b))
	assert.Equal(t, "none", Trust(42).String())
	assert.Equal(t, "UnsupportedCpu", StatusUnsupportedCPU.String())
	assert.Equal(t, "OK", StatusOK.String())
	assert.True(t, TrustContext > TrustCFI && TrustCFI > TrustFramePointer && TrustFramePointer > TrustScan)
}
