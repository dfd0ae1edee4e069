// Package stackwalk reconstructs native call stacks from a thread's saved
// register context and captured stack memory.
package stackwalk

// Trust says how a frame's registers were recovered. Higher values are
// more reliable.
type Trust int

const (
	TrustNone Trust = iota
	TrustScan
	TrustFramePointer
	TrustCFI
	TrustContext
)

var trustNames = [...]string{
	TrustNone:         "none",
	TrustScan:         "scan",
	TrustFramePointer: "frame_pointer",
	TrustCFI:          "cfi",
	TrustContext:      "context",
}

func (t Trust) String() string {
	if t < 0 || int(t) >= len(trustNames) {
		return trustNames[TrustNone]
	}
	return trustNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t Trust) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// CallStackInfo is the outcome of unwinding one thread.
type CallStackInfo int

const (
	StatusOK CallStackInfo = iota
	StatusMissingContext
	StatusMissingMemory
	StatusUnsupportedCPU
	StatusDumpThreadSkipped
)

var statusNames = [...]string{
	StatusOK:                "OK",
	StatusMissingContext:    "MissingContext",
	StatusMissingMemory:     "MissingMemory",
	StatusUnsupportedCPU:    "UnsupportedCpu",
	StatusDumpThreadSkipped: "DumpThreadSkipped",
}

func (s CallStackInfo) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s CallStackInfo) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
