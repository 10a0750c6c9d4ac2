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

func newTestDeduplicator(t *testing.T, window time.Duration) (*Deduplicator, *metrics.DedupMetrics) {
	t.Helper()
	client := setupTestClient(t)
	m := metrics.NewDedupMetrics(prometheus.NewRegistry())
	return NewDeduplicator(client, dedup.NewCache(window, clockwork.NewRealClock()), m), m
}

func TestDeduplicator_AdmitsOnce(t *testing.T) {
	d, m := newTestDeduplicator(t, time.Minute)
	ctx := context.Background()

	ok, err := d.Admit(ctx, "1-alice-1000")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Admit(ctx, "1-alice-1000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Admit(ctx, "1-bob-1000")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("redis", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("redis", "duplicate")))
	assert.Equal(t, 2, d.Len(), "accepted fingerprints are mirrored locally")
}

func TestDeduplicator_SharedAcrossInstances(t *testing.T) {
	client := setupTestClient(t)
	m := metrics.NewDedupMetrics(prometheus.NewRegistry())
	clock := clockwork.NewRealClock()
	first := NewDeduplicator(client, dedup.NewCache(time.Minute, clock), m)
	second := NewDeduplicator(client, dedup.NewCache(time.Minute, clock), m)
	ctx := context.Background()

	ok, err := first.Admit(ctx, "7-carol-42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Admit(ctx, "7-carol-42")
	require.NoError(t, err)
	assert.False(t, ok, "another instance already claimed the fingerprint")
}

func TestDeduplicator_KeyExpiresWithWindow(t *testing.T) {
	d, m := newTestDeduplicator(t, 300*time.Millisecond)
	ctx := context.Background()

	ok, _ := d.Admit(ctx, "fp")
	require.True(t, ok)

	ttl, err := d.rdb.PTTL(ctx, dedupKeyPrefix+"fp").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 300*time.Millisecond)

	time.Sleep(400 * time.Millisecond)

	ok, _ = d.Admit(ctx, "fp")
	assert.True(t, ok, "fingerprint is admitted again after the window")
	assert.Equal(t, float64(gobreaker.StateClosed), testutil.ToFloat64(m.BreakerState))
}

func TestDeduplicator_ReleaseDropsClaim(t *testing.T) {
	d, _ := newTestDeduplicator(t, time.Minute)
	ctx := context.Background()

	ok, _ := d.Admit(ctx, "fp")
	require.True(t, ok)

	require.NoError(t, d.Release(ctx, "fp"))
	n, err := d.rdb.Exists(ctx, dedupKeyPrefix+"fp").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, _ = d.Admit(ctx, "fp")
	assert.True(t, ok)
}
