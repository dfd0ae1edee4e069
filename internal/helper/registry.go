package helper

import "sync"

// Registry maps crashed processes to the minidumps written for them. The
// platform crash hook registers dumps; TransferMinidump consumes them.
type Registry struct {
	mu    sync.Mutex
	dumps map[uint32]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{dumps: make(map[uint32]string)}
}

// Register records the minidump of pid, replacing any earlier one.
func (r *Registry) Register(pid uint32, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dumps[pid] = path
}

// Take removes and returns the minidump of pid.
func (r *Registry) Take(pid uint32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, ok := r.dumps[pid]
	delete(r.dumps, pid)
	return path, ok
}

// Len returns the number of pending minidumps.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dumps)
}
