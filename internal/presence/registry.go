// Package presence tracks the set of live connections and their delivery endpoints.
package presence

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/askpulse/internal/domain"
)

// Registry owns the canonical set of live connection ids.
// Mutations come from the event bus goroutine; reads may come from anywhere.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]domain.Subscriber
	newID func() uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]domain.Subscriber),
		newID: uuid.New,
	}
}

// Connect registers a live connection and returns its id.
func (r *Registry) Connect(sub domain.Subscriber) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = r.newID()
	}
	r.conns[id] = sub
	return id
}

// Disconnect removes a connection. Removing an unknown id is a no-op and returns false,
// since transports may report the same loss more than once.
func (r *Registry) Disconnect(connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; !ok {
		return false
	}
	delete(r.conns, connID)
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Contains(connID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// Subscriber returns the delivery endpoint of a live connection.
func (r *Registry) Subscriber(connID uuid.UUID) (domain.Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.conns[connID]
	return sub, ok
}

// Each calls fn for every live connection. fn must not call back into the registry.
func (r *Registry) Each(fn func(connID uuid.UUID, sub domain.Subscriber)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, sub := range r.conns {
		fn(id, sub)
	}
}
