// Package timeseries defines the time-series write port.
package timeseries

import (
	"context"

	"github.com/Strob0t/iotbridge/internal/domain/webhook"
)

// Writer stores telemetry points.
type Writer interface {
	Write(ctx context.Context, points ...webhook.Point) error
}
