package dedup

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultWindow is how long a fingerprint stays admitted.
const DefaultWindow = 5 * time.Minute

// Cache is a fingerprint admission filter with a fixed window.
// Safe for concurrent use: the event bus admits from its callers' goroutines and
// sweeps from its own, the client mirror admits from its read loop.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	clock   clockwork.Clock
	expires map[string]time.Time
	queue   expiryQueue

	onEvict    func(n int)
	onDecision func(accepted bool)
}

// NewCache creates a cache that admits each fingerprint once per window.
func NewCache(window time.Duration, clock clockwork.Clock) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		window:  window,
		clock:   clock,
		expires: make(map[string]time.Time),
	}
}

// OnEvict registers a callback invoked after each sweep that evicted entries.
func (c *Cache) OnEvict(fn func(n int)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// OnDecision registers a callback invoked after every ShouldAccept.
func (c *Cache) OnDecision(fn func(accepted bool)) {
	c.mu.Lock()
	c.onDecision = fn
	c.mu.Unlock()
}

// ShouldAccept returns true the first time a fingerprint is seen within the window
// and records it. An entry past its expiry counts as evicted even if no sweep ran yet.
func (c *Cache) ShouldAccept(fingerprint string) bool {
	c.mu.Lock()
	accepted := c.admitLocked(fingerprint)
	onDecision := c.onDecision
	c.mu.Unlock()

	if onDecision != nil {
		onDecision(accepted)
	}
	return accepted
}

// Record marks a fingerprint admitted elsewhere (for example by a shared store)
// without reporting a decision. An unexpired entry keeps its original expiry.
func (c *Cache) Record(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admitLocked(fingerprint)
}

func (c *Cache) admitLocked(fingerprint string) bool {
	now := c.clock.Now()
	if exp, ok := c.expires[fingerprint]; ok && now.Before(exp) {
		return false
	}

	exp := now.Add(c.window)
	c.expires[fingerprint] = exp
	heap.Push(&c.queue, expiryItem{fingerprint: fingerprint, expiresAt: exp})
	return true
}

// Admit implements domain.Deduplicator.
func (c *Cache) Admit(_ context.Context, fingerprint string) (bool, error) {
	return c.ShouldAccept(fingerprint), nil
}

// Release forgets a fingerprint so its next submission is admitted again.
// The stale heap entry is skipped by Sweep.
func (c *Cache) Release(_ context.Context, fingerprint string) error {
	c.mu.Lock()
	delete(c.expires, fingerprint)
	c.mu.Unlock()
	return nil
}

// Sweep evicts every fingerprint whose window has elapsed and returns the count.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	now := c.clock.Now()
	evicted := 0
	for c.queue.Len() > 0 && !now.Before(c.queue[0].expiresAt) {
		item := heap.Pop(&c.queue).(expiryItem)
		// A re-admitted fingerprint has a newer expiry; its old heap entry must not evict it.
		if exp, ok := c.expires[item.fingerprint]; ok && exp.Equal(item.expiresAt) {
			delete(c.expires, item.fingerprint)
			evicted++
		}
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if evicted > 0 && onEvict != nil {
		onEvict(evicted)
	}
	return evicted
}

// Len returns the number of admitted fingerprints, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expires)
}

// Window returns the admission window.
func (c *Cache) Window() time.Duration {
	return c.window
}

// StartEvictionTimer sweeps on every interval until the returned stop function is called.
func (c *Cache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.Sweep(); evicted > 0 {
					slog.Debug("Evicted expired fingerprints", "count", evicted, "remaining", c.Len())
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

type expiryItem struct {
	fingerprint string
	expiresAt   time.Time
}

// expiryQueue is a min-heap ordered by expiry.
type expiryQueue []expiryItem

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].expiresAt.Before(q[j].expiresAt) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *expiryQueue) Push(x any) { *q = append(*q, x.(expiryItem)) }

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
