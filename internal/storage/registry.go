package storage

import "sync"

// OpenRegistry counts how many times each file path is currently open
// within the process. It exists only to warn about unsafe concurrent
// opens of the same file; it never prevents them. The registry is
// passed explicitly (DefaultRegistry by default) so tests can use an
// independent instance per run.
type OpenRegistry struct {
	mu   sync.Mutex
	open map[string]int
}

// DefaultRegistry is the process-wide registry used when Options does
// not supply one.
var DefaultRegistry = NewOpenRegistry()

func NewOpenRegistry() *OpenRegistry {
	return &OpenRegistry{open: make(map[string]int)}
}

// acquire records one more open of path and returns the new count.
func (r *OpenRegistry) acquire(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[path]++
	return r.open[path]
}

// release records one close of path.
func (r *OpenRegistry) release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.open[path]; n > 1 {
		r.open[path] = n - 1
	} else {
		delete(r.open, path)
	}
}

// OpenCount returns how many opens of path are currently registered.
func (r *OpenRegistry) OpenCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[path]
}
