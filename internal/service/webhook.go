package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/iotbridge/internal/adapter/otel"
	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/device"
	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/domain/webhook"
	"github.com/Strob0t/iotbridge/internal/port/broadcast"
	"github.com/Strob0t/iotbridge/internal/port/devicemgmt"
	"github.com/Strob0t/iotbridge/internal/port/ipam"
	"github.com/Strob0t/iotbridge/internal/port/timeseries"
)

// WebhookService handles ThingsBoard rule-engine calls.
type WebhookService struct {
	registry devicemgmt.Registry
	vpn      ipam.Allocator
	series   timeseries.Writer
	events   broadcast.Publisher
	metrics  *cfotel.Metrics
	locks    keyedMutex
}

// NewWebhookService creates a WebhookService. events and metrics may be nil.
func NewWebhookService(
	registry devicemgmt.Registry,
	vpn ipam.Allocator,
	series timeseries.Writer,
	events broadcast.Publisher,
	metrics *cfotel.Metrics,
) *WebhookService {
	if events == nil {
		events = broadcast.Nop{}
	}
	return &WebhookService{
		registry: registry,
		vpn:      vpn,
		series:   series,
		events:   events,
		metrics:  metrics,
	}
}

// DeviceConnected provisions a device on its first connection: OTA target
// plus VPN address. Repeated events for a provisioned device only report
// its address.
func (s *WebhookService) DeviceConnected(ctx context.Context, ev *webhook.ThingsBoardEvent) (*webhook.ProvisionResult, error) {
	id := ev.DeviceID()
	if id == "" {
		slog.WarnContext(ctx, "device webhook without device id", "msg_type", ev.MsgType)
		s.count(ctx, "device", webhook.StatusIgnored)
		return &webhook.ProvisionResult{Status: webhook.StatusIgnored, Reason: webhook.ReasonNoDeviceID}, nil
	}
	if err := device.ValidateID(id); err != nil {
		return nil, err
	}

	name := ev.MetaString("deviceName")
	if name == "" {
		name = id
	}
	deviceType := ev.MetaString("deviceType")
	if deviceType == "" {
		deviceType = device.DefaultType
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	existing, err := s.registry.GetTarget(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hawkBit query failed: %w", err)
	}

	status := webhook.StatusAlreadyProvisioned
	if existing == nil {
		attrs := map[string]string{
			"device_type": deviceType,
			"source":      webhook.SourceThingsBoardWebhook,
		}
		if _, err := s.registry.CreateTarget(ctx, id, name, attrs); err != nil {
			return nil, fmt.Errorf("hawkBit provisioning failed: %w", err)
		}
		slog.InfoContext(ctx, "ota target created", "device_id", id)
		status = webhook.StatusProvisioned
	} else {
		slog.InfoContext(ctx, "device already provisioned", "device_id", id)
	}

	addr, err := s.vpn.Allocate(ctx, id)
	if err != nil {
		return nil, err
	}

	s.count(ctx, "device", status)
	if status == webhook.StatusProvisioned {
		slog.InfoContext(ctx, "wireguard address assigned", "device_id", id, "wireguard_ip", addr.String())
		if s.metrics != nil {
			s.metrics.Allocations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "device")))
		}
		publish(ctx, s.events, event.Event{
			Kind:     event.KindDeviceProvisioned,
			DeviceID: id,
			Attributes: map[string]string{
				"device_type":  deviceType,
				"source":       webhook.SourceThingsBoardWebhook,
				"wireguard_ip": addr.String(),
			},
		})
	}
	return &webhook.ProvisionResult{Status: status, DeviceID: id, WireGuardIP: addr.String()}, nil
}

// Telemetry writes the event's data object as one device_telemetry point
// tagged with tenant and device.
func (s *WebhookService) Telemetry(ctx context.Context, ev *webhook.ThingsBoardEvent) (*webhook.TelemetryResult, error) {
	id := ev.DeviceID()
	if id == "" {
		slog.WarnContext(ctx, "telemetry webhook without device id", "msg_type", ev.MsgType)
		s.count(ctx, "telemetry", webhook.StatusIgnored)
		return &webhook.TelemetryResult{Status: webhook.StatusIgnored, Reason: webhook.ReasonNoDeviceID}, nil
	}
	tenantID := ev.MetaString("tenantId")
	if tenantID == "" {
		tenantID = webhook.DefaultTelemetryTenantID
	}

	point := webhook.NewTelemetryPoint(tenantID, id, ev.Data)
	if _, ok := point.LineProtocol(); !ok {
		s.count(ctx, "telemetry", webhook.StatusIgnored)
		return &webhook.TelemetryResult{
			Status:   webhook.StatusIgnored,
			DeviceID: id,
			TenantID: tenantID,
			Reason:   webhook.ReasonNoTelemetryFields,
		}, nil
	}

	if err := s.series.Write(ctx, point); err != nil {
		slog.ErrorContext(ctx, "telemetry write failed", "device_id", id, "tenant_id", tenantID, "error", err)
		return nil, fmt.Errorf("%w: InfluxDB write failed: %v", domain.ErrUnavailable, err)
	}

	s.count(ctx, "telemetry", webhook.StatusWritten)
	return &webhook.TelemetryResult{
		Status:        webhook.StatusWritten,
		DeviceID:      id,
		TenantID:      tenantID,
		PointsWritten: 1,
	}, nil
}

func (s *WebhookService) count(ctx context.Context, hook, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WebhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("hook", hook),
		attribute.String("status", status),
	))
}
