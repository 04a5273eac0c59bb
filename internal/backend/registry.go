// internal/backend/registry.go
package backend

import (
	"sync"
)

// Registry is a directory of live backends keyed by id. It does no health
// checking; List preserves declaration order.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	order    []string
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		order:    make([]string, 0),
	}
}

// Register stores a backend under id. An existing entry is replaced in
// place and keeps its declaration position.
func (r *Registry) Register(id string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; !exists {
		r.order = append(r.order, id)
	}
	r.backends[id] = b
}

// Unregister removes a backend. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; !exists {
		return
	}
	delete(r.backends, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the backend registered under id
func (r *Registry) Get(id string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// Entry pairs a backend with the id it was registered under
type Entry struct {
	ID      string
	Backend Backend
}

// List returns all backends in declaration order
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, Entry{ID: id, Backend: r.backends[id]})
	}
	return entries
}

// IDs returns the registered ids in declaration order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of registered backends
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
