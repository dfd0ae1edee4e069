package stackwalk

const (
	scanSlots        = 40
	scanSlotsContext = 160

	// A saved frame pointer found next to a scanned return address must
	// lie within this distance above it.
	maxFrameGap = 128 * 1024
)

func (w *Walker) callerByScan(callee *StackFrame) *StackFrame {
	sp, ok := callee.Registers.SP()
	if !ok {
		return nil
	}
	slots := scanSlots
	if callee.Trust == TrustContext {
		slots = scanSlotsContext
	}

	for i := 0; i < slots; i++ {
		addr, ok := w.addPointers(sp, i)
		if !ok {
			return nil
		}
		value, ok := w.readPointer(addr)
		if !ok {
			return nil
		}
		if !w.looksLikeReturnAddress(value) {
			continue
		}

		callerSP, ok := w.addPointers(addr, 1)
		if !ok {
			return nil
		}
		regs := NewRegisters(w.arch)
		regs.Set(w.arch.IP, value)
		regs.Set(w.arch.SP, callerSP)
		if bp, ok := w.savedFramePointer(addr, sp); ok {
			regs.Set(w.arch.FP, bp)
		} else if bp, ok := callee.Registers.FP(); ok && bp >= callerSP {
			regs.Set(w.arch.FP, bp)
		}
		return &StackFrame{Registers: regs, Trust: TrustScan}
	}
	return nil
}

// savedFramePointer checks whether the slot below a return address found
// at hit holds a frame pointer pushed by a standard prologue.
func (w *Walker) savedFramePointer(hit, sp uint64) (uint64, bool) {
	ptr := uint64(w.arch.PointerSize)
	if hit < sp+ptr {
		return 0, false
	}
	bp, ok := w.readPointer(hit - ptr)
	if !ok {
		return 0, false
	}
	if bp <= hit || bp-hit > maxFrameGap || !w.stack.Contains(bp) {
		return 0, false
	}
	return bp, true
}

// looksLikeReturnAddress accepts canonical addresses inside a module and,
// when the module has symbols, inside a function.
func (w *Walker) looksLikeReturnAddress(addr uint64) bool {
	if addr == 0 || !w.arch.Canonical(addr) {
		return false
	}
	module := w.modules.ModuleAt(addr)
	if module == nil {
		return false
	}
	probe := StackFrame{Instruction: addr - 1, Registers: NewRegisters(w.arch)}
	if err := w.symbols.FillSymbol(module, &probe); err == nil {
		return probe.Function != ""
	}
	return true
}
