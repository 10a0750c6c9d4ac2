package broadcast

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pscheid92/askpulse/internal/domain"
)

func (b *Bus) broadcastAll(ctx context.Context, event domain.Event) {
	b.presence.Each(func(connID uuid.UUID, sub domain.Subscriber) {
		b.deliver(ctx, connID, sub, event)
	})
}

// broadcastTopic delivers to the members of a topic. Memberships of connections
// no longer present are skipped.
func (b *Bus) broadcastTopic(ctx context.Context, questionID int64, event domain.Event) {
	for _, connID := range b.topics.MembersOf(questionID) {
		sub, ok := b.presence.Subscriber(connID)
		if !ok {
			continue
		}
		b.deliver(ctx, connID, sub, event)
	}
}

// deliver hands one event to one subscriber. A refusing or panicking subscriber
// only loses this event; the rest of the fanout proceeds.
func (b *Bus) deliver(ctx context.Context, connID uuid.UUID, sub domain.Subscriber, event domain.Event) {
	eventType := string(event.Type)

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Subscriber panic recovered", "conn_id", connID.String(), "event", eventType, "panic", r)
			b.metrics.PanicsTotal.Inc()
			b.metrics.DeliveriesDropped.WithLabelValues(eventType).Inc()
		}
	}()

	if sub.Deliver(event) {
		b.metrics.EventsDelivered.WithLabelValues(eventType).Inc()
		return
	}
	b.metrics.DeliveriesDropped.WithLabelValues(eventType).Inc()
	slog.DebugContext(ctx, "Event dropped by subscriber", "conn_id", connID.String(), "event", eventType)
}
