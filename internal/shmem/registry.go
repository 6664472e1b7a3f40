// Package shmem hands out named shared regions with attach-or-create
// semantics. The first attacher of a name builds the region; later attachers
// of the same name get the existing one back untouched. One registry stands
// in for the host's shared-memory allocator, so every structure that must be
// visible to all workers of a deployment goes through the same registry.
package shmem

import "sync"

type Registry struct {
	mu   sync.Mutex
	segs map[string]any
}

func NewRegistry() *Registry {
	return &Registry{segs: make(map[string]any)}
}

// Default is the process-wide registry used when the embedder does not
// supply its own.
var Default = NewRegistry()

// Attach returns the region registered under name, creating it with create
// on first attach. found reports whether the region already existed; callers
// must not reinitialize a found region.
func (r *Registry) Attach(name string, create func() any) (v any, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.segs[name]; ok {
		return v, true
	}
	v = create()
	r.segs[name] = v
	return v, false
}

// Detach drops the region registered under name. Attaching the same name
// again afterwards builds a fresh region.
func (r *Registry) Detach(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.segs, name)
}
