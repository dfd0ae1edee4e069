package ipc

import (
	"os"
	"sync"
)

// AncillaryData is an OS descriptor bound to exactly one message. Whoever
// takes it owns the file; an AncillaryData that is never taken should be
// closed.
type AncillaryData struct {
	mu   sync.Mutex
	file *os.File
}

// NewAncillaryData wraps f. A nil f yields nil.
func NewAncillaryData(f *os.File) *AncillaryData {
	if f == nil {
		return nil
	}
	return &AncillaryData{file: f}
}

// Take transfers ownership of the descriptor to the caller. It returns nil
// once the descriptor has been taken or closed.
func (a *AncillaryData) Take() *os.File {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.file
	a.file = nil
	return f
}

// Present reports whether the descriptor is still held.
func (a *AncillaryData) Present() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file != nil
}

// Close releases the descriptor if nobody took it.
func (a *AncillaryData) Close() error {
	if f := a.Take(); f != nil {
		return f.Close()
	}
	return nil
}
