// Package broadcast defines the port for publishing onboarding lifecycle events.
package broadcast

import (
	"context"

	"github.com/Strob0t/iotbridge/internal/domain/event"
)

// Publisher announces lifecycle transitions to other services.
type Publisher interface {
	PublishEvent(ctx context.Context, ev event.Event) error
}

// Nop discards every event. It is used when no message bus is configured.
type Nop struct{}

// PublishEvent implements Publisher.
func (Nop) PublishEvent(context.Context, event.Event) error { return nil }
