package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/dedup"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const (
	dedupKeyPrefix = "dedup:answer:"

	breakerMinRequests  = 5
	breakerFailureRatio = 0.6
	breakerInterval     = 10 * time.Second
	breakerOpenTimeout  = 30 * time.Second
)

// Deduplicator shares the answer admission filter across instances through Redis.
// Each fingerprint is claimed with SET NX PX; the first claimant within the window wins.
//
// Redis failures never let duplicates through wholesale: the decision falls back to the
// local cache, which mirrors every fingerprint Redis admitted on this instance.
// A circuit breaker stops hammering Redis once it is clearly down.
type Deduplicator struct {
	rdb     *goredis.Client
	cb      *gobreaker.CircuitBreaker
	local   *dedup.Cache
	metrics *metrics.DedupMetrics
}

func NewDeduplicator(rdb *goredis.Client, local *dedup.Cache, m *metrics.DedupMetrics) *Deduplicator {
	return &Deduplicator{
		rdb:     rdb,
		cb:      newBreaker("redis-dedup", m.BreakerState),
		local:   local,
		metrics: m,
	}
}

func newBreaker(name string, state prometheus.Gauge) *gobreaker.CircuitBreaker {
	state.Set(float64(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= breakerMinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
			state.Set(float64(to))
		},
	})
}

// Admit implements domain.Deduplicator. It never returns an error: Redis problems
// are absorbed by the local fallback.
func (d *Deduplicator) Admit(ctx context.Context, fingerprint string) (bool, error) {
	result, err := d.cb.Execute(func() (any, error) {
		return d.claim(ctx, fingerprint)
	})
	if err != nil {
		d.metrics.Fallbacks.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.DebugContext(ctx, "Redis dedup unavailable, using local cache", "fingerprint", fingerprint)
		} else {
			slog.WarnContext(ctx, "Redis dedup failed, using local cache", "fingerprint", fingerprint, "error", err)
		}
		return d.local.ShouldAccept(fingerprint), nil
	}

	accepted := result.(bool)
	d.metrics.Decisions.WithLabelValues("redis", decisionLabel(accepted)).Inc()
	if accepted {
		d.local.Record(fingerprint)
	}
	return accepted, nil
}

func (d *Deduplicator) claim(ctx context.Context, fingerprint string) (bool, error) {
	args := goredis.SetArgs{TTL: d.local.Window(), Mode: "NX"}
	_, err := d.rdb.SetArgs(ctx, dedupKeyPrefix+fingerprint, "1", args).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim fingerprint: %w", err)
	}
	return true, nil
}

// Release gives back a claim whose answer was never stored. The local mirror
// is cleared even when Redis cannot be reached.
func (d *Deduplicator) Release(ctx context.Context, fingerprint string) error {
	_ = d.local.Release(ctx, fingerprint)
	_, err := d.cb.Execute(func() (any, error) {
		return nil, d.rdb.Del(ctx, dedupKeyPrefix+fingerprint).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to release fingerprint: %w", err)
	}
	return nil
}

// Sweep expires the local mirror; Redis expires its keys itself.
func (d *Deduplicator) Sweep() int {
	return d.local.Sweep()
}

// Len returns the number of fingerprints in the local mirror.
func (d *Deduplicator) Len() int {
	return d.local.Len()
}

func decisionLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "duplicate"
}
