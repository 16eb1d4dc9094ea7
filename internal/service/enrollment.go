package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/iotbridge/internal/adapter/otel"
	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/device"
	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/logger"
	"github.com/Strob0t/iotbridge/internal/port/broadcast"
	"github.com/Strob0t/iotbridge/internal/port/devicemgmt"
	"github.com/Strob0t/iotbridge/internal/port/ipam"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// EnrollmentService enrolls single devices: certificate, OTA registration
// and VPN address in one call.
type EnrollmentService struct {
	issuer   pki.Issuer
	roots    pki.RootFetcher
	registry devicemgmt.Registry
	vpn      ipam.Allocator
	events   broadcast.Publisher
	metrics  *cfotel.Metrics
	locks    keyedMutex
}

// NewEnrollmentService creates an EnrollmentService. roots, events and
// metrics may be nil.
func NewEnrollmentService(
	issuer pki.Issuer,
	roots pki.RootFetcher,
	registry devicemgmt.Registry,
	vpn ipam.Allocator,
	events broadcast.Publisher,
	metrics *cfotel.Metrics,
) *EnrollmentService {
	if events == nil {
		events = broadcast.Nop{}
	}
	return &EnrollmentService{
		issuer:   issuer,
		roots:    roots,
		registry: registry,
		vpn:      vpn,
		events:   events,
		metrics:  metrics,
	}
}

// Enroll signs the device CSR, ensures the OTA target exists and assigns a
// VPN address. The request is validated before any external call. Any
// upstream failure aborts the enrollment.
func (s *EnrollmentService) Enroll(ctx context.Context, deviceID string, req device.EnrollRequest) (_ *device.EnrollResult, err error) {
	if err := device.ValidateID(deviceID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(deviceID)
	defer unlock()

	ctx = logger.WithAttrs(ctx, slog.String("device_id", deviceID))
	ctx, span := cfotel.StartEnrollSpan(ctx, deviceID)
	defer func() { cfotel.EndSpan(span, err) }()
	defer func() { s.count(ctx, err) }()

	cert, err := s.issuer.Sign(ctx, req.CSR, deviceID, []string{deviceID})
	if err != nil {
		return nil, fmt.Errorf("PKI signing failed: %w", err)
	}

	if err := s.ensureTarget(ctx, deviceID, req.DeviceName, req.DeviceType); err != nil {
		return nil, fmt.Errorf("hawkBit provisioning failed: %w", err)
	}

	addr, err := s.vpn.Allocate(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	wgConf, err := s.vpn.ClientConfig(ctx, deviceID, addr, req.WGPublicKey)
	if err != nil {
		return nil, err
	}

	chain := cert.ChainPEM
	if chain == "" && s.roots != nil {
		if chain, err = s.roots.Root(ctx); err != nil {
			slog.WarnContext(ctx, "root CA fetch failed", "error", err)
			chain, err = "", nil
		}
	}

	slog.InfoContext(ctx, "device enrolled", "wireguard_ip", addr.String())
	publish(ctx, s.events, event.Event{
		Kind:     event.KindDeviceEnrolled,
		DeviceID: deviceID,
		Attributes: map[string]string{
			"device_type":  req.DeviceType,
			"wireguard_ip": addr.String(),
		},
	})

	return &device.EnrollResult{
		Certificate:     cert.CertPEM,
		CAChain:         chain,
		WireGuardIP:     addr.String(),
		WireGuardConfig: wgConf,
	}, nil
}

// ensureTarget creates the OTA target unless it exists. A create that
// races with another registration and answers 409 counts as success.
func (s *EnrollmentService) ensureTarget(ctx context.Context, id, name, deviceType string) error {
	existing, err := s.registry.GetTarget(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.DebugContext(ctx, "ota target exists", "device_id", id)
		return nil
	}
	_, err = s.registry.CreateTarget(ctx, id, name, map[string]string{"device_type": deviceType})
	var ue *domain.UpstreamError
	if errors.As(err, &ue) && ue.Status == http.StatusConflict {
		return nil
	}
	return err
}

func (s *EnrollmentService) count(ctx context.Context, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	s.metrics.Enrollments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
