package minidump

import (
	"encoding/binary"
	"fmt"
)

// Context is a thread's register state. Registers are indexed in the
// order given by RegisterNames for the context's CPU.
type Context struct {
	CPU       CPU
	Flags     uint32
	Registers []uint64
}

var registerNames = map[CPU][]string{
	// DWARF numbering.
	CPUAMD64: {
		"rax", "rdx", "rcx", "rbx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "rip",
	},
	CPUX86: {"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "eip"},
	CPUARM64: {
		"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9",
		"x10", "x11", "x12", "x13", "x14", "x15", "x16", "x17", "x18", "x19",
		"x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28",
		"x29", "x30", "sp", "pc",
	},
}

// RegisterNames returns the register names of cpu in index order, or nil
// for an unsupported architecture.
func RegisterNames(cpu CPU) []string {
	return registerNames[cpu]
}

// Register returns the value of the named register.
func (c *Context) Register(name string) (uint64, bool) {
	for i, n := range registerNames[c.CPU] {
		if n == name && i < len(c.Registers) {
			return c.Registers[i], true
		}
	}
	return 0, false
}

const (
	amd64ContextMin = 256
	x86ContextMin   = 204
	arm64ContextMin = 272
)

// ParseContext decodes a raw thread context for cpu.
func ParseContext(cpu CPU, raw []byte) (*Context, error) {
	switch cpu {
	case CPUAMD64:
		return parseAMD64(raw)
	case CPUX86:
		return parseX86(raw)
	case CPUARM64:
		return parseARM64(raw)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCPU, cpu)
}

// parseAMD64 decodes the Windows CONTEXT layout used for all amd64 dumps.
func parseAMD64(raw []byte) (*Context, error) {
	if len(raw) < amd64ContextMin {
		return nil, streamTruncated("amd64 context", 0, amd64ContextMin, len(raw))
	}
	c := newCursor(raw, "amd64 context")
	ctx := &Context{CPU: CPUAMD64, Registers: make([]uint64, 17)}

	c.seek(48)
	ctx.Flags = c.u32()

	c.seek(120)
	r := ctx.Registers
	r[0] = c.u64()  // rax
	r[2] = c.u64()  // rcx
	r[1] = c.u64()  // rdx
	r[3] = c.u64()  // rbx
	r[7] = c.u64()  // rsp
	r[6] = c.u64()  // rbp
	r[4] = c.u64()  // rsi
	r[5] = c.u64()  // rdi
	for i := 8; i <= 15; i++ {
		r[i] = c.u64()
	}
	r[16] = c.u64() // rip
	return ctx, c.err
}

func parseX86(raw []byte) (*Context, error) {
	if len(raw) < x86ContextMin {
		return nil, streamTruncated("x86 context", 0, x86ContextMin, len(raw))
	}
	c := newCursor(raw, "x86 context")
	ctx := &Context{CPU: CPUX86, Registers: make([]uint64, 9)}
	ctx.Flags = c.u32()

	c.seek(156)
	r := ctx.Registers
	r[7] = uint64(c.u32()) // edi
	r[6] = uint64(c.u32()) // esi
	r[3] = uint64(c.u32()) // ebx
	r[2] = uint64(c.u32()) // edx
	r[1] = uint64(c.u32()) // ecx
	r[0] = uint64(c.u32()) // eax
	r[5] = uint64(c.u32()) // ebp
	r[8] = uint64(c.u32()) // eip
	c.skip(8)              // cs, eflags
	r[4] = uint64(c.u32()) // esp
	return ctx, c.err
}

func parseARM64(raw []byte) (*Context, error) {
	if len(raw) < arm64ContextMin {
		return nil, streamTruncated("arm64 context", 0, arm64ContextMin, len(raw))
	}
	c := newCursor(raw, "arm64 context")
	ctx := &Context{CPU: CPUARM64, Registers: make([]uint64, 33)}
	ctx.Flags = c.u32()
	c.skip(4) // cpsr
	for i := range ctx.Registers {
		ctx.Registers[i] = c.u64()
	}
	return ctx, c.err
}

// Bytes encodes the context in the layout ParseContext accepts.
func (c *Context) Bytes() []byte {
	le := binary.LittleEndian
	reg := func(i int) uint64 {
		if i < len(c.Registers) {
			return c.Registers[i]
		}
		return 0
	}

	var out []byte
	switch c.CPU {
	case CPUAMD64:
		out = make([]byte, 1232)
		le.PutUint32(out[48:], c.Flags)
		for i, r := range []int{0, 2, 1, 3, 7, 6, 4, 5, 8, 9, 10, 11, 12, 13, 14, 15, 16} {
			le.PutUint64(out[120+8*i:], reg(r))
		}
	case CPUX86:
		out = make([]byte, 716)
		le.PutUint32(out, c.Flags)
		for i, r := range []int{7, 6, 3, 2, 1, 0, 5, 8} {
			le.PutUint32(out[156+4*i:], uint32(reg(r)))
		}
		le.PutUint32(out[196:], uint32(reg(4)))
	case CPUARM64:
		out = make([]byte, 912)
		le.PutUint32(out, c.Flags)
		for i := 0; i < 33; i++ {
			le.PutUint64(out[8+8*i:], reg(i))
		}
	}
	return out
}
