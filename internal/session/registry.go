package session

import (
	"context"
	"sync"
)

type entry struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

// Registry tracks the live controllers of one process so they can be torn
// down together on shutdown.
type Registry struct {
	mu   sync.Mutex
	live map[string]entry
	gone sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]entry)}
}

// Add registers c under its snapshot ID. cancel must stop c's Run.
func (r *Registry) Add(c *Controller, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[c.Snapshot().ID] = entry{ctrl: c, cancel: cancel}
	r.gone.Add(1)
}

// Remove drops the controller with the given ID after waiting for its
// background work.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.live[id]
	delete(r.live, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	e.ctrl.Wait()
	r.gone.Done()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Snapshots returns the current snapshot of every live session.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.live))
	for _, e := range r.live {
		out = append(out, e.ctrl.Snapshot())
	}
	return out
}

// Shutdown cancels every live session and waits until all of them have been
// removed, or until ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, e := range r.live {
		e.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.gone.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
