package minidump

import "fmt"

const (
	exceptionStreamSize = 168
	maxExceptionParams  = 15
)

// Exception is the Exception stream: the faulting thread and its
// MINIDUMP_EXCEPTION record.
type Exception struct {
	ThreadID         uint32
	Code             uint32
	Flags            uint32
	NestedRecord     uint64
	Address          uint64
	NumberParameters uint32
	Information      [maxExceptionParams]uint64

	rawContext []byte
}

// Parameters returns the used ExceptionInformation slots.
func (e *Exception) Parameters() []uint64 {
	return e.Information[:min(int(e.NumberParameters), maxExceptionParams)]
}

// Context decodes the faulting thread's context at the time of the crash.
func (e *Exception) Context(cpu CPU) (*Context, error) {
	if len(e.rawContext) == 0 {
		return nil, fmt.Errorf("exception context: %w", ErrStreamNotPresent)
	}
	return ParseContext(cpu, e.rawContext)
}

func (m *Minidump) readException() (*Exception, error) {
	data, err := m.RawStream(ExceptionStream)
	if err != nil {
		return nil, err
	}
	if len(data) < exceptionStreamSize {
		return nil, streamTruncated("Exception stream", 0, exceptionStreamSize, len(data))
	}
	c := newCursor(data, "Exception stream")
	e := &Exception{ThreadID: c.u32()}
	c.skip(4) // alignment
	e.Code = c.u32()
	e.Flags = c.u32()
	e.NestedRecord = c.u64()
	e.Address = c.u64()
	e.NumberParameters = c.u32()
	c.skip(4) // alignment
	for i := range e.Information {
		e.Information[i] = c.u64()
	}
	ctxLoc := c.location()
	if c.err != nil {
		return nil, c.err
	}
	e.rawContext, _ = ctxLoc.slice(m.data, "exception context")
	return e, nil
}
