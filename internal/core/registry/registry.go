// Package registry owns every world-visible entity. Other components keep
// handles and resolve them here; a handle whose entity was removed resolves
// to nothing.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/handle"
)

var (
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrAlreadyRegistered = errors.New("handle already registered")
)

// RemoveError is the panic value for removing an entity that is not
// registered, including a second removal of the same entity.
type RemoveError struct {
	Handle handle.Handle
}

func (e *RemoveError) Error() string {
	return fmt.Sprintf("registry: remove of unregistered %s", e.Handle)
}

type table struct {
	mu      sync.RWMutex
	entries map[handle.Handle]entity.Entity
}

// Registry keeps one table per handle category. Tables are guarded by
// read-write locks so admin readers can run beside the simulation.
type Registry struct {
	alloc  *handle.Allocator
	tables [8]*table

	pendingMu sync.Mutex
	pending   []entity.Entity
}

func New() *Registry {
	r := &Registry{alloc: handle.NewAllocator()}
	for _, c := range handle.Categories {
		r.tables[c] = &table{entries: make(map[handle.Handle]entity.Entity)}
	}
	return r
}

func (r *Registry) tableFor(h handle.Handle) *table {
	return r.tables[h.Category()]
}

// Allocate issues a fresh handle of category c.
func (r *Registry) Allocate(c handle.Category) handle.Handle {
	return r.alloc.Allocate(c)
}

// Issued is the number of handles category c has ever issued.
func (r *Registry) Issued(c handle.Category) uint32 {
	return r.alloc.Issued(c)
}

// Register inserts e under its handle. Non-passive entities are also queued
// for the next DrainPending.
func (r *Registry) Register(e entity.Entity) error {
	h := e.Handle()
	t := r.tableFor(h)
	if !h.Valid() || t == nil {
		return fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}

	t.mu.Lock()
	if _, ok := t.entries[h]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, h)
	}
	t.entries[h] = e
	t.mu.Unlock()

	if !e.IsPassive() {
		r.pendingMu.Lock()
		r.pending = append(r.pending, e)
		r.pendingMu.Unlock()
	}
	return nil
}

// Lookup returns the entity for h, or nil.
func (r *Registry) Lookup(h handle.Handle) entity.Entity {
	t := r.tableFor(h)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[h]
}

// Find resolves h and checks that the entity has type T. Unknown handles,
// dead handles and handles of another kind all report false.
func Find[T entity.Entity](r *Registry, h handle.Handle) (T, bool) {
	e := r.Lookup(h)
	if e == nil {
		var zero T
		return zero, false
	}
	v, ok := e.(T)
	return v, ok
}

// Remove deletes e from its table. Removing an entity that is not
// registered panics.
func (r *Registry) Remove(e entity.Entity) {
	h := e.Handle()
	t := r.tableFor(h)
	if t == nil {
		panic(&RemoveError{Handle: h})
	}

	t.mu.Lock()
	cur, ok := t.entries[h]
	if !ok || cur != e {
		t.mu.Unlock()
		panic(&RemoveError{Handle: h})
	}
	delete(t.entries, h)
	t.mu.Unlock()
}

// DrainPending returns everything registered since the previous call.
func (r *Registry) DrainPending() []entity.Entity {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

func (r *Registry) Count(c handle.Category) int {
	t := r.tables[c&7]
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ForEach visits a snapshot of category c, so fn may register or remove.
func (r *Registry) ForEach(c handle.Category, fn func(entity.Entity)) {
	t := r.tables[c&7]
	if t == nil {
		return
	}
	t.mu.RLock()
	snapshot := make([]entity.Entity, 0, len(t.entries))
	for _, e := range t.entries {
		snapshot = append(snapshot, e)
	}
	t.mu.RUnlock()

	for _, e := range snapshot {
		fn(e)
	}
}

// Destroy drops every table entry and the pending queue.
func (r *Registry) Destroy() {
	for _, t := range r.tables {
		if t == nil {
			continue
		}
		t.mu.Lock()
		clear(t.entries)
		t.mu.Unlock()
	}
	r.pendingMu.Lock()
	r.pending = nil
	r.pendingMu.Unlock()
}
