// Package topic maps question discussions to the connections subscribed to them.
package topic

import (
	"sync"

	"github.com/google/uuid"
)

type connSet map[uuid.UUID]struct{}

// Table is the topic membership table. It holds non-owning references to
// connection ids; the presence registry decides which ids are live.
//
// Both directions are indexed so a disconnect can be purged without scanning every topic.
type Table struct {
	mu      sync.RWMutex
	members map[int64]connSet
	joined  map[uuid.UUID]map[int64]struct{}
}

func NewTable() *Table {
	return &Table{
		members: make(map[int64]connSet),
		joined:  make(map[uuid.UUID]map[int64]struct{}),
	}
}

// Join adds a connection to a topic. Joining twice is a no-op. Reports whether membership changed.
func (t *Table) Join(connID uuid.UUID, topicID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.members[topicID]
	if !ok {
		set = make(connSet)
		t.members[topicID] = set
	}
	if _, already := set[connID]; already {
		return false
	}
	set[connID] = struct{}{}

	topics, ok := t.joined[connID]
	if !ok {
		topics = make(map[int64]struct{})
		t.joined[connID] = topics
	}
	topics[topicID] = struct{}{}
	return true
}

// Leave removes a connection from a topic. Leaving a topic never joined is a no-op.
func (t *Table) Leave(connID uuid.UUID, topicID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(connID, topicID)
}

func (t *Table) leaveLocked(connID uuid.UUID, topicID int64) bool {
	set, ok := t.members[topicID]
	if !ok {
		return false
	}
	if _, member := set[connID]; !member {
		return false
	}

	delete(set, connID)
	if len(set) == 0 {
		delete(t.members, topicID)
	}

	if topics, ok := t.joined[connID]; ok {
		delete(topics, topicID)
		if len(topics) == 0 {
			delete(t.joined, connID)
		}
	}
	return true
}

// Purge removes a connection from every topic it belongs to and returns how many it left.
func (t *Table) Purge(connID uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	topics := t.joined[connID]
	left := 0
	for topicID := range topics {
		if t.leaveLocked(connID, topicID) {
			left++
		}
	}
	delete(t.joined, connID)
	return left
}

// MembersOf returns a copy of the connection ids subscribed to a topic.
func (t *Table) MembersOf(topicID int64) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.members[topicID]
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Len returns the number of topics with at least one member.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}
