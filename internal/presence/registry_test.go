package presence

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopSubscriber() domain.Subscriber {
	return domain.SubscriberFunc(func(domain.Event) bool { return true })
}

func TestRegistry_ConnectDisconnectCount(t *testing.T) {
	r := NewRegistry()

	var ids []uuid.UUID
	for range 5 {
		ids = append(ids, r.Connect(nopSubscriber()))
	}
	assert.Equal(t, 5, r.Count())

	for _, id := range ids[:2] {
		assert.True(t, r.Disconnect(id))
	}
	assert.Equal(t, 3, r.Count(), "N connects and M disconnects leave N-M")
}

func TestRegistry_DisconnectIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.Connect(nopSubscriber())

	assert.True(t, r.Disconnect(id))
	assert.False(t, r.Disconnect(id))
	assert.False(t, r.Disconnect(uuid.New()))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	r := NewRegistry()
	fixed := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	other := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	calls := 0
	r.newID = func() uuid.UUID {
		calls++
		if calls <= 2 {
			return fixed
		}
		return other
	}

	first := r.Connect(nopSubscriber())
	second := r.Connect(nopSubscriber())

	assert.Equal(t, fixed, first)
	assert.Equal(t, other, second)
}

func TestRegistry_SubscriberLookup(t *testing.T) {
	r := NewRegistry()
	var got []domain.Event
	id := r.Connect(domain.SubscriberFunc(func(e domain.Event) bool {
		got = append(got, e)
		return true
	}))

	sub, ok := r.Subscriber(id)
	require.True(t, ok)
	sub.Deliver(domain.Event{Type: domain.EventPresenceCount})
	assert.Len(t, got, 1)
	assert.True(t, r.Contains(id))

	_, ok = r.Subscriber(uuid.New())
	assert.False(t, ok)
}

func TestRegistry_Each(t *testing.T) {
	r := NewRegistry()
	a := r.Connect(nopSubscriber())
	b := r.Connect(nopSubscriber())

	seen := map[uuid.UUID]bool{}
	r.Each(func(id uuid.UUID, _ domain.Subscriber) { seen[id] = true })

	assert.Equal(t, map[uuid.UUID]bool{a: true, b: true}, seen)
}
