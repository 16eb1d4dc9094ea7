package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/port/broadcast"
	"github.com/Strob0t/iotbridge/internal/port/messagequeue"
)

// EventPublisher publishes lifecycle events on their kind's subject.
type EventPublisher struct {
	q messagequeue.Publisher
}

var _ broadcast.Publisher = (*EventPublisher)(nil)

// NewEventPublisher wraps q.
func NewEventPublisher(q messagequeue.Publisher) *EventPublisher {
	return &EventPublisher{q: q}
}

// PublishEvent marshals ev and publishes it on ev.Kind.Subject().
func (p *EventPublisher) PublishEvent(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Kind, err)
	}
	return p.q.Publish(ctx, ev.Kind.Subject(), data)
}
