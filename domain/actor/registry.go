package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Handle refers to an actor through a Registry. Sensor callbacks hold a
// handle instead of the actor, so a destroyed actor can be collected and its
// late callbacks resolve to nothing.
type Handle uint64

// Registry maps handles to live actors. A handle is never reused.
type Registry struct {
	mu     sync.RWMutex
	next   Handle
	actors map[Handle]*Actor
	order  []Handle
	stale  atomic.Uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{actors: make(map[Handle]*Actor)}
}

// Register adds a and returns its handle
func (r *Registry) Register(a *Actor) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.actors[h] = a
	r.order = append(r.order, h)
	return h
}

// Lookup resolves a handle. It fails once the handle was invalidated.
func (r *Registry) Lookup(h Handle) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[h]
	return a, ok
}

// Invalidate drops a handle and reports whether it was live
func (r *Registry) Invalidate(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actors[h]; !ok {
		return false
	}
	delete(r.actors, h)
	for i, o := range r.order {
		if o == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns the live actors in spawn order
func (r *Registry) All() []*Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Actor, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.actors[h])
	}
	return out
}

// Len returns the number of live actors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// DestroyAll destroys every live actor, newest first, and returns the joined
// errors. Every actor is attempted even when an earlier one fails.
func (r *Registry) DestroyAll(ctx context.Context) error {
	actors := r.All()

	var errs []error
	for i := len(actors) - 1; i >= 0; i-- {
		if err := actors[i].Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset invalidates every handle without touching the simulator. Used after
// a map change, which destroys the actors on the simulator side.
func (r *Registry) Reset() int {
	r.mu.Lock()
	actors := r.actors
	r.actors = make(map[Handle]*Actor)
	r.order = nil
	r.mu.Unlock()

	for _, a := range actors {
		a.markDestroyed()
	}
	return len(actors)
}

// StaleCallbacks counts sensor deliveries whose actor was already gone
func (r *Registry) StaleCallbacks() uint64 {
	return r.stale.Load()
}
