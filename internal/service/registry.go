package service

import "sync"

// registry is the per-source advisory lock. At most one sync run may be
// active per source; a second attempt is rejected rather than queued, the
// next run picks up the latest state anyway.
type registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRegistry() *registry {
	return &registry{active: make(map[string]struct{})}
}

// acquire reserves the source for a run. It reports false when a run is
// already active.
func (r *registry) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[name]; ok {
		return false
	}
	r.active[name] = struct{}{}
	return true
}

// release frees the source. Whoever acquired the lock is solely responsible
// for releasing it on every exit path, including panics.
func (r *registry) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, name)
}
