package stackwalk

// cfiFrame adapts one CFI evaluation to the CFIWalker interface.
type cfiFrame struct {
	w      *Walker
	callee *StackFrame
	caller Registers
}

func (c *cfiFrame) Instruction() uint64 { return c.callee.Instruction }
func (c *cfiFrame) PointerSize() int    { return c.w.arch.PointerSize }

func (c *cfiFrame) CalleeRegister(name string) (uint64, bool) {
	return c.callee.Registers.Lookup(name)
}

func (c *cfiFrame) SetCallerRegister(name string, value uint64) bool {
	i := c.w.arch.Index(name)
	if i < 0 {
		return false
	}
	c.caller.Set(i, value)
	return true
}

func (c *cfiFrame) ClearCallerRegister(name string) {
	c.caller.Clear(c.w.arch.Index(name))
}

func (c *cfiFrame) SetCFA(value uint64) { c.caller.Set(c.w.arch.SP, value) }
func (c *cfiFrame) SetRA(value uint64)  { c.caller.Set(c.w.arch.IP, value) }

func (c *cfiFrame) ReadMemory(addr uint64) (uint64, bool) {
	return c.w.readPointer(addr)
}

func (w *Walker) callerByCFI(callee *StackFrame) *StackFrame {
	if callee.Module == nil {
		return nil
	}
	if _, ok := callee.Registers.SP(); !ok {
		return nil
	}
	c := &cfiFrame{w: w, callee: callee, caller: w.forwardCalleeSaved(callee)}
	if !w.symbols.WalkFrame(callee.Module, c) {
		return nil
	}
	if _, ok := c.caller.IP(); !ok {
		return nil
	}
	if _, ok := c.caller.SP(); !ok {
		return nil
	}
	return &StackFrame{Registers: c.caller, Trust: TrustCFI}
}
