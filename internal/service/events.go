package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/logger"
	"github.com/Strob0t/iotbridge/internal/port/broadcast"
)

// publish announces a lifecycle event. Failures are logged and never
// fail the operation that caused the event.
func publish(ctx context.Context, pub broadcast.Publisher, ev event.Event) {
	if pub == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.RequestID = logger.RequestID(ctx)
	ev.OccurredAt = time.Now().UTC()
	if err := pub.PublishEvent(ctx, ev); err != nil {
		slog.WarnContext(ctx, "event publish failed", "kind", ev.Kind, "error", err)
	}
}
