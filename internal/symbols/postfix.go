package symbols

import (
	"fmt"
	"strconv"
	"strings"
)

// evaluator runs Breakpad postfix expressions such as
// ".cfa -8 + ^". Arithmetic wraps at 64 bits.
type evaluator struct {
	lookup func(name string) (uint64, bool)
	read   func(addr uint64) (uint64, bool)
}

func (e *evaluator) eval(expr string) (uint64, error) {
	var stack []uint64
	pop := func() (uint64, bool) {
		if len(stack) == 0 {
			return 0, false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}

	for _, tok := range strings.Fields(expr) {
		switch tok {
		case "^":
			addr, ok := pop()
			if !ok {
				return 0, fmt.Errorf("stack underflow at %q", tok)
			}
			v, ok := e.read(addr)
			if !ok {
				return 0, fmt.Errorf("cannot read memory at %#x", addr)
			}
			stack = append(stack, v)
		case "+", "-", "*", "/", "%", "@":
			b, okB := pop()
			a, okA := pop()
			if !okA || !okB {
				return 0, fmt.Errorf("stack underflow at %q", tok)
			}
			v, err := binaryOp(tok, a, b)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		default:
			v, err := e.operand(tok)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		}
	}

	if len(stack) != 1 {
		return 0, fmt.Errorf("expression %q leaves %d values", expr, len(stack))
	}
	return stack[0], nil
}

func (e *evaluator) operand(tok string) (uint64, error) {
	if c := tok[0]; c == '-' || (c >= '0' && c <= '9') {
		if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
			return uint64(v), nil
		}
		if v, err := strconv.ParseUint(tok, 0, 64); err == nil {
			return v, nil
		}
		return 0, fmt.Errorf("bad number %q", tok)
	}
	v, ok := e.lookup(strings.TrimPrefix(tok, "$"))
	if !ok {
		return 0, fmt.Errorf("unknown register %q", tok)
	}
	return v, nil
}

func binaryOp(op string, a, b uint64) (uint64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		if op == "/" {
			return a / b, nil
		}
		return a % b, nil
	case "@":
		// Align a down to a multiple of b, which must be a power of two.
		if b == 0 || b&(b-1) != 0 {
			return 0, fmt.Errorf("bad alignment %d", b)
		}
		return a &^ (b - 1), nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}
