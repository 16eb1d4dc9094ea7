// Package influxdb writes telemetry to InfluxDB v2 using line protocol.
package influxdb

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain/webhook"
	"github.com/Strob0t/iotbridge/internal/port/timeseries"
	"github.com/Strob0t/iotbridge/internal/resilience"
)

const (
	serviceName    = "influxdb"
	requestTimeout = 10 * time.Second
)

// Writer posts points to /api/v2/write with millisecond precision.
type Writer struct {
	rc    *restclient.Client
	token func() string
	path  string
}

var _ timeseries.Writer = (*Writer)(nil)

// New creates a Writer. Without a token writes are skipped with a warning.
func New(cfg config.InfluxDB, token func() string, breaker *resilience.Breaker) *Writer {
	rc := restclient.New(serviceName, cfg.URL, nil, requestTimeout)
	rc.SetAuth(func(r *http.Request) error {
		r.Header.Set("Authorization", "Token "+token())
		return nil
	})
	if breaker != nil {
		rc.SetBreaker(breaker)
	}
	q := url.Values{}
	q.Set("org", cfg.Org)
	q.Set("bucket", cfg.Bucket)
	q.Set("precision", "ms")
	return &Writer{rc: rc, token: token, path: "/api/v2/write?" + q.Encode()}
}

// Write renders points as line protocol and sends them in one batch.
// Points without a representable field are dropped.
func (w *Writer) Write(ctx context.Context, points ...webhook.Point) error {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		if line, ok := p.LineProtocol(); ok {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	if w.token() == "" {
		slog.WarnContext(ctx, "influxdb token not configured, skipping write", "lines", len(lines))
		return nil
	}

	_, err := w.rc.Do(ctx, restclient.Request{
		Op:          "write",
		Method:      http.MethodPost,
		Path:        w.path,
		Body:        []byte(strings.Join(lines, "\n")),
		ContentType: "text/plain; charset=utf-8",
	})
	return err
}
