// Package vote holds the signed vote counters for questions and answers.
package vote

import (
	"fmt"
	"sync"

	"github.com/pscheid92/askpulse/internal/domain"
)

// Aggregator applies signed deltas to per-target counters.
// Totals are unclamped: they may go negative.
type Aggregator struct {
	mu       sync.RWMutex
	counters map[domain.Target]int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{counters: make(map[domain.Target]int64)}
}

// Track creates the counter for a new record at zero. Tracking an existing target keeps its total.
func (a *Aggregator) Track(target domain.Target) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.counters[target]; !ok {
		a.counters[target] = 0
	}
}

// Apply adds the direction's delta and returns the new total.
// Returns domain.ErrTargetNotFound for an untracked target; nothing is mutated then.
func (a *Aggregator) Apply(target domain.Target, dir domain.Direction) (int64, error) {
	if dir != domain.DirectionUp && dir != domain.DirectionDown {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDirection, dir)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	total, ok := a.counters[target]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrTargetNotFound, target)
	}
	total += dir.Delta()
	a.counters[target] = total
	return total, nil
}

// Total returns the current total of a target.
func (a *Aggregator) Total(target domain.Target) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total, ok := a.counters[target]
	return total, ok
}
