package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/dedup"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicator_FallsBackToLocalCache(t *testing.T) {
	m := metrics.NewDedupMetrics(prometheus.NewRegistry())
	d := NewDeduplicator(unreachableClient(t), dedup.NewCache(time.Minute, clockwork.NewFakeClock()), m)
	ctx := context.Background()

	ok, err := d.Admit(ctx, "1-alice-1000")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Admit(ctx, "1-alice-1000")
	require.NoError(t, err)
	assert.False(t, ok, "local fallback still rejects duplicates")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fallbacks))
}

func TestDeduplicator_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	m := metrics.NewDedupMetrics(prometheus.NewRegistry())
	d := NewDeduplicator(unreachableClient(t), dedup.NewCache(time.Minute, clockwork.NewFakeClock()), m)
	ctx := context.Background()
	assert.Equal(t, float64(gobreaker.StateClosed), testutil.ToFloat64(m.BreakerState))

	for i := range breakerMinRequests {
		_, err := d.Admit(ctx, "fp-"+string(rune('a'+i)))
		require.NoError(t, err)
	}
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(m.BreakerState))

	ok, err := d.Admit(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok, "open breaker decides locally")
	assert.Equal(t, float64(breakerMinRequests+1), testutil.ToFloat64(m.Fallbacks))
}

func TestDeduplicator_SweepAndLenUseLocalMirror(t *testing.T) {
	clock := clockwork.NewFakeClock()
	local := dedup.NewCache(time.Minute, clock)
	d := NewDeduplicator(unreachableClient(t), local, metrics.NewDedupMetrics(prometheus.NewRegistry()))

	_, _ = d.Admit(context.Background(), "fp")
	assert.Equal(t, 1, d.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, d.Sweep())
	assert.Equal(t, 0, d.Len())
}

func TestDeduplicator_ReleaseClearsLocalMirror(t *testing.T) {
	local := dedup.NewCache(time.Minute, clockwork.NewFakeClock())
	d := NewDeduplicator(unreachableClient(t), local, metrics.NewDedupMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	ok, _ := d.Admit(ctx, "fp")
	require.True(t, ok)

	err := d.Release(ctx, "fp")
	assert.Error(t, err, "Redis is unreachable")
	assert.Equal(t, 0, local.Len())

	ok, _ = d.Admit(ctx, "fp")
	assert.True(t, ok, "a released fingerprint is admitted again")
}
