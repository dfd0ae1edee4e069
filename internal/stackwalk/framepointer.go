package stackwalk

import "github.com/crash-analysis/internal/minidump"

func (w *Walker) callerByFramePointer(callee *StackFrame) *StackFrame {
	// Windows x64 code does not keep a frame pointer chain.
	if w.arch.CPU == minidump.CPUAMD64 && w.os.IsWindows() {
		return nil
	}
	bp, ok := callee.Registers.FP()
	if !ok {
		return nil
	}
	sp, ok := callee.Registers.SP()
	if !ok {
		return nil
	}

	ipAddr, ok := w.addPointers(bp, 1)
	if !ok {
		return nil
	}
	callerSP, ok := w.addPointers(bp, 2)
	if !ok {
		return nil
	}
	callerIP, ok := w.readPointer(ipAddr)
	if !ok {
		return nil
	}
	callerBP, ok := w.readPointer(bp)
	if !ok {
		return nil
	}

	switch {
	case callerSP <= bp:
		return nil
	case callerBP == 0 || callerBP < callerSP || !w.stack.Contains(callerBP):
		return nil
	case !w.arch.Canonical(callerIP):
		return nil
	case callerSP <= sp || !w.stack.Contains(callerSP):
		return nil
	}

	regs := w.forwardCalleeSaved(callee)
	regs.Set(w.arch.IP, callerIP)
	regs.Set(w.arch.SP, callerSP)
	regs.Set(w.arch.FP, callerBP)
	return &StackFrame{Registers: regs, Trust: TrustFramePointer}
}
