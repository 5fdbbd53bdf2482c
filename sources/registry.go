package sources

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// handle is a live reader task.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	paused atomic.Bool
}

func (h *handle) stop() {
	h.cancel()
	<-h.done
}

// Registry maps source ids to their running readers. It is owned by one
// Manager.
type Registry struct {
	mu      sync.Mutex
	readers map[string]*handle
}

func newRegistry() *Registry {
	return &Registry{readers: make(map[string]*handle)}
}

func (r *Registry) put(id string, h *handle) {
	r.mu.Lock()
	r.readers[id] = h
	r.mu.Unlock()
}

func (r *Registry) get(id string) (*handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.readers[id]
	return h, ok
}

// remove drops id only if it still maps to h.
func (r *Registry) remove(id string, h *handle) {
	r.mu.Lock()
	if r.readers[id] == h {
		delete(r.readers, id)
	}
	r.mu.Unlock()
}

func (r *Registry) take(id string) (*handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.readers[id]
	delete(r.readers, id)
	return h, ok
}

// Running returns the ids with a live reader, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.readers))
	for id := range r.readers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) drain() []*handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*handle, 0, len(r.readers))
	for id, h := range r.readers {
		out = append(out, h)
		delete(r.readers, id)
	}
	return out
}
