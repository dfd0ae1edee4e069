package analyzer

import (
	"fmt"

	"github.com/crash-analysis/internal/minidump"
)

// Windows exception codes.
const (
	exceptionAccessViolation = 0xc0000005
	exceptionInPageError     = 0xc0000006
)

var windowsCodes = map[uint32]string{
	0x40000015: "STATUS_FATAL_APP_EXIT",
	0x80000003: "EXCEPTION_BREAKPOINT",
	0x80000004: "EXCEPTION_SINGLE_STEP",
	0xc000001d: "EXCEPTION_ILLEGAL_INSTRUCTION",
	0xc000008c: "EXCEPTION_ARRAY_BOUNDS_EXCEEDED",
	0xc000008e: "EXCEPTION_FLT_DIVIDE_BY_ZERO",
	0xc0000090: "EXCEPTION_FLT_INVALID_OPERATION",
	0xc0000094: "EXCEPTION_INT_DIVIDE_BY_ZERO",
	0xc0000095: "EXCEPTION_INT_OVERFLOW",
	0xc0000096: "EXCEPTION_PRIV_INSTRUCTION",
	0xc00000fd: "EXCEPTION_STACK_OVERFLOW",
	0xc0000374: "STATUS_HEAP_CORRUPTION",
	0xc0000409: "STATUS_STACK_BUFFER_OVERRUN",
	0xc0000420: "STATUS_ASSERTION_FAILURE",
	0xc0000602: "STATUS_FAIL_FAST_EXCEPTION",
	0xe06d7363: "EXCEPTION_CPP",
}

var accessTypes = map[uint64]string{0: "READ", 1: "WRITE", 8: "EXEC"}

// Linux signals with their si_code names.
type signal struct {
	name  string
	codes map[uint32]string
}

var linuxSignals = map[uint32]signal{
	4: {"SIGILL", map[uint32]string{
		1: "ILL_ILLOPC", 2: "ILL_ILLOPN", 3: "ILL_ILLADR", 4: "ILL_ILLTRP",
		5: "ILL_PRVOPC", 6: "ILL_PRVREG", 7: "ILL_COPROC", 8: "ILL_BADSTK",
	}},
	5: {"SIGTRAP", nil},
	6: {"SIGABRT", nil},
	7: {"SIGBUS", map[uint32]string{1: "BUS_ADRALN", 2: "BUS_ADRERR", 3: "BUS_OBJERR", 4: "BUS_MCEERR_AR", 5: "BUS_MCEERR_AO"}},
	8: {"SIGFPE", map[uint32]string{
		1: "FPE_INTDIV", 2: "FPE_INTOVF", 3: "FPE_FLTDIV", 4: "FPE_FLTOVF",
		5: "FPE_FLTUND", 6: "FPE_FLTRES", 7: "FPE_FLTINV", 8: "FPE_FLTSUB",
	}},
	9:  {"SIGKILL", nil},
	11: {"SIGSEGV", map[uint32]string{1: "SEGV_MAPERR", 2: "SEGV_ACCERR", 3: "SEGV_BNDERR", 4: "SEGV_PKUERR"}},
	13: {"SIGPIPE", nil},
	15: {"SIGTERM", nil},
	31: {"SIGSYS", nil},
}

// si_code values shared by every signal.
var linuxCommonCodes = map[uint32]string{
	0:          "SI_USER",
	0x80:       "SI_KERNEL",
	0xffffffff: "SI_QUEUE",
	0xfffffffa: "SI_TKILL",
}

const linuxDumpRequested = 0xffffffff

var machExceptions = map[uint32]string{
	1:          "EXC_BAD_ACCESS",
	2:          "EXC_BAD_INSTRUCTION",
	3:          "EXC_ARITHMETIC",
	4:          "EXC_EMULATION",
	5:          "EXC_SOFTWARE",
	6:          "EXC_BREAKPOINT",
	7:          "EXC_SYSCALL",
	8:          "EXC_MACH_SYSCALL",
	9:          "EXC_RPC_ALERT",
	11:         "EXC_RESOURCE",
	12:         "EXC_GUARD",
	0x43507378: "Simulated Exception",
}

var machBadAccessCodes = map[uint32]string{
	1:  "KERN_INVALID_ADDRESS",
	2:  "KERN_PROTECTION_FAILURE",
	8:  "KERN_NO_ACCESS",
	10: "KERN_MEMORY_FAILURE",
	11: "KERN_MEMORY_ERROR",
	13: "KERN_CODESIGN_ERROR",
}

// ClassifyCrash names the exception and returns the faulting address.
func ClassifyCrash(os minidump.OS, exc *minidump.Exception) (string, uint64) {
	switch {
	case os.IsWindows():
		return classifyWindows(exc)
	case os.IsLinux():
		return classifyLinux(exc), exc.Address
	case os.IsApple():
		return classifyMach(exc), exc.Address
	}
	return fmt.Sprintf("%#x", exc.Code), exc.Address
}

func classifyWindows(exc *minidump.Exception) (string, uint64) {
	params := exc.Parameters()
	switch exc.Code {
	case exceptionAccessViolation, exceptionInPageError:
		name := "EXCEPTION_ACCESS_VIOLATION"
		if exc.Code == exceptionInPageError {
			name = "EXCEPTION_IN_PAGE_ERROR"
		}
		if len(params) < 2 {
			return name, exc.Address
		}
		if access, ok := accessTypes[params[0]]; ok {
			name += "_" + access
		}
		return name, params[1]
	}
	if name, ok := windowsCodes[exc.Code]; ok {
		return name, exc.Address
	}
	return fmt.Sprintf("%#08x", exc.Code), exc.Address
}

func classifyLinux(exc *minidump.Exception) string {
	if exc.Code == linuxDumpRequested {
		return "DUMP_REQUESTED"
	}
	sig, ok := linuxSignals[exc.Code]
	if !ok {
		return fmt.Sprintf("signal %d", exc.Code)
	}
	if code, ok := sig.codes[exc.Flags]; ok {
		return sig.name + " / " + code
	}
	if code, ok := linuxCommonCodes[exc.Flags]; ok {
		return sig.name + " / " + code
	}
	return sig.name
}

func classifyMach(exc *minidump.Exception) string {
	name, ok := machExceptions[exc.Code]
	if !ok {
		return fmt.Sprintf("%#x", exc.Code)
	}
	if exc.Code == 1 {
		if code, ok := machBadAccessCodes[exc.Flags]; ok {
			return name + " / " + code
		}
	}
	return name
}
