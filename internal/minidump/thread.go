package minidump

import "fmt"

const (
	threadEntrySize     = 48
	threadNameEntrySize = 12
)

// Thread is one MINIDUMP_THREAD entry.
type Thread struct {
	ID            uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	TEB           uint64

	// Stack is the captured stack memory, or nil if its location is
	// outside the file.
	Stack *MemoryRegion

	rawContext []byte
}

// Context decodes the thread's register state for cpu.
func (t *Thread) Context(cpu CPU) (*Context, error) {
	if len(t.rawContext) == 0 {
		return nil, fmt.Errorf("thread %d: %w", t.ID, ErrStreamNotPresent)
	}
	return ParseContext(cpu, t.rawContext)
}

// ThreadList is the ThreadList stream.
type ThreadList struct {
	Threads []Thread
}

// ByID returns the thread with the given id and its index.
func (l *ThreadList) ByID(id uint32) (*Thread, int, bool) {
	for i := range l.Threads {
		if l.Threads[i].ID == id {
			return &l.Threads[i], i, true
		}
	}
	return nil, -1, false
}

func (m *Minidump) readThreadList() (*ThreadList, error) {
	data, err := m.RawStream(ThreadListStream)
	if err != nil {
		return nil, err
	}
	n, body, err := arrayBody(data, threadEntrySize, "ThreadList stream")
	if err != nil {
		return nil, err
	}

	list := &ThreadList{Threads: make([]Thread, n)}
	c := newCursor(body, "ThreadList stream")
	for i := range list.Threads {
		t := &list.Threads[i]
		t.ID = c.u32()
		t.SuspendCount = c.u32()
		t.PriorityClass = c.u32()
		t.Priority = c.u32()
		t.TEB = c.u64()
		stackBase := c.u64()
		stackLoc := c.location()
		ctxLoc := c.location()
		if c.err != nil {
			return nil, c.err
		}

		if stack, err := stackLoc.slice(m.data, "thread stack"); err == nil && len(stack) > 0 {
			t.Stack = &MemoryRegion{Base: stackBase, Data: stack}
		}
		// A context outside the file is reported when the thread is walked.
		t.rawContext, _ = ctxLoc.slice(m.data, "thread context")
	}
	return list, nil
}

// ThreadNames maps thread ids to names.
type ThreadNames struct {
	Names map[uint32]string
}

// Name returns the name of thread id, or "".
func (n *ThreadNames) Name(id uint32) string {
	if n == nil || n.Names == nil {
		return ""
	}
	return n.Names[id]
}

func (m *Minidump) readThreadNames() (*ThreadNames, error) {
	data, err := m.RawStream(ThreadNamesStream)
	if err != nil {
		return nil, err
	}
	n, body, err := arrayBody(data, threadNameEntrySize, "ThreadNames stream")
	if err != nil {
		return nil, err
	}

	names := &ThreadNames{Names: make(map[uint32]string, n)}
	c := newCursor(body, "ThreadNames stream")
	for i := 0; i < n; i++ {
		id := c.u32()
		rva := c.u64()
		if c.err != nil {
			return nil, c.err
		}
		if rva > uint64(len(m.data)) {
			continue
		}
		if name, err := readString(m.data, uint32(rva)); err == nil {
			names.Names[id] = name
		}
	}
	return names, nil
}
