package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/domain/webhook"
)

func decodeEvent(t *testing.T, body string) *webhook.ThingsBoardEvent {
	t.Helper()
	var ev webhook.ThingsBoardEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return &ev
}

func TestWebhookService_DeviceConnectedIdempotent(t *testing.T) {
	registry := newMockRegistry()
	events := &recordingPublisher{}
	svc := NewWebhookService(registry, newTestAllocator(t), &mockWriter{}, events, nil)
	ctx := context.Background()
	ev := decodeEvent(t, `{"msgType":"CONNECT_EVENT","metadata":{"deviceName":"sensor-7","deviceType":"thermo"}}`)

	first, err := svc.DeviceConnected(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != webhook.StatusProvisioned || first.DeviceID != "sensor-7" || first.WireGuardIP != "10.13.13.2" {
		t.Errorf("first = %+v", first)
	}
	attrs := registry.attrs["sensor-7"]
	if attrs["device_type"] != "thermo" || attrs["source"] != webhook.SourceThingsBoardWebhook {
		t.Errorf("attributes = %v", attrs)
	}

	second, err := svc.DeviceConnected(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != webhook.StatusAlreadyProvisioned || second.WireGuardIP != first.WireGuardIP {
		t.Errorf("second = %+v", second)
	}
	if registry.creates != 1 {
		t.Errorf("CreateTarget called %d times, want 1", registry.creates)
	}
	if got := events.kinds(); len(got) != 1 || got[0] != event.KindDeviceProvisioned {
		t.Errorf("events = %v", got)
	}
}

func TestWebhookService_DeviceIDPrecedence(t *testing.T) {
	registry := newMockRegistry()
	svc := NewWebhookService(registry, newTestAllocator(t), &mockWriter{}, nil, nil)

	res, err := svc.DeviceConnected(context.Background(),
		decodeEvent(t, `{"metadata":{"deviceName":"name","clientId":"client","deviceId":"id-1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.DeviceID != "id-1" {
		t.Errorf("device id = %q, want id-1", res.DeviceID)
	}
	if registry.targets["id-1"].Name != "name" {
		t.Errorf("target name = %q", registry.targets["id-1"].Name)
	}
	if registry.attrs["id-1"]["device_type"] != "generic" {
		t.Errorf("device_type = %q", registry.attrs["id-1"]["device_type"])
	}
}

func TestWebhookService_NoDeviceIDIgnored(t *testing.T) {
	registry := newMockRegistry()
	svc := NewWebhookService(registry, newTestAllocator(t), &mockWriter{}, nil, nil)

	res, err := svc.DeviceConnected(context.Background(), decodeEvent(t, `{"msgType":"X","metadata":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != webhook.StatusIgnored || res.Reason != webhook.ReasonNoDeviceID {
		t.Errorf("res = %+v", res)
	}
	if registry.creates != 0 {
		t.Error("no target should be created")
	}
}

func TestWebhookService_RegistryErrorsKeepClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unreachable", &domain.UpstreamError{Service: "hawkbit", Op: "get target", Err: errors.New("dial tcp: refused")}, domain.ErrUnavailable},
		{"server error", domain.NewUpstreamError("hawkbit", "get target", 500, nil), domain.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newMockRegistry()
			registry.getErr = tt.err
			svc := NewWebhookService(registry, newTestAllocator(t), &mockWriter{}, nil, nil)

			_, err := svc.DeviceConnected(context.Background(), decodeEvent(t, `{"metadata":{"deviceId":"d1"}}`))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWebhookService_RejectsMalformedDeviceID(t *testing.T) {
	registry := newMockRegistry()
	vpn := newTestAllocator(t)
	svc := NewWebhookService(registry, vpn, &mockWriter{}, nil, nil)

	for _, id := range []string{"tenant:acme", "dev 1"} {
		ev := decodeEvent(t, `{"metadata":{"deviceId":"`+id+`"}}`)
		if _, err := svc.DeviceConnected(context.Background(), ev); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("DeviceConnected(%q) err = %v, want validation", id, err)
		}
	}
	if registry.creates != 0 {
		t.Errorf("targets created: %d", registry.creates)
	}
	if peers, _ := vpn.Peers(context.Background()); len(peers) != 0 {
		t.Errorf("peers = %v, want none", peers)
	}
}

func TestWebhookService_TelemetryWritten(t *testing.T) {
	w := &mockWriter{}
	svc := NewWebhookService(newMockRegistry(), newTestAllocator(t), w, nil, nil)

	res, err := svc.Telemetry(context.Background(), decodeEvent(t,
		`{"msgType":"POST_TELEMETRY_REQUEST","metadata":{"deviceName":"dev 1","tenantId":"acme"},"data":{"a":1,"b":2.5,"c":true,"d":"x"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != webhook.StatusWritten || res.PointsWritten != 1 || res.TenantID != "acme" || res.DeviceID != "dev 1" {
		t.Errorf("res = %+v", res)
	}
	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	line, ok := w.points[0].LineProtocol()
	if !ok {
		t.Fatal("point has no fields")
	}
	want := `device_telemetry,device_id=dev_1,tenant_id=acme a=1i,b=2.5,c=true,d="x"`
	if line != want {
		t.Errorf("line = %q, want %q", line, want)
	}
}

func TestWebhookService_TelemetryIgnored(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"empty data", `{"metadata":{"deviceId":"d1"},"data":{}}`, webhook.ReasonNoTelemetryFields},
		{"string data", `{"metadata":{"deviceId":"d1"},"data":"temperature=20"}`, webhook.ReasonNoTelemetryFields},
		{"only nested", `{"metadata":{"deviceId":"d1"},"data":{"obj":{"x":1}}}`, webhook.ReasonNoTelemetryFields},
		{"no device", `{"metadata":{},"data":{"a":1}}`, webhook.ReasonNoDeviceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &mockWriter{}
			svc := NewWebhookService(newMockRegistry(), newTestAllocator(t), w, nil, nil)
			res, err := svc.Telemetry(context.Background(), decodeEvent(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != webhook.StatusIgnored || res.Reason != tt.reason {
				t.Errorf("res = %+v", res)
			}
			if len(w.points) != 0 {
				t.Error("nothing should be written")
			}
		})
	}
}

func TestWebhookService_TelemetryDefaultTenant(t *testing.T) {
	w := &mockWriter{}
	svc := NewWebhookService(newMockRegistry(), newTestAllocator(t), w, nil, nil)

	res, err := svc.Telemetry(context.Background(), decodeEvent(t, `{"metadata":{"deviceId":"d1"},"data":{"t":20}}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.TenantID != webhook.DefaultTelemetryTenantID {
		t.Errorf("tenant = %q", res.TenantID)
	}
}

func TestWebhookService_TelemetryWriteFailureUnavailable(t *testing.T) {
	w := &mockWriter{err: domain.NewUpstreamError("influxdb", "write", 401, nil)}
	svc := NewWebhookService(newMockRegistry(), newTestAllocator(t), w, nil, nil)

	_, err := svc.Telemetry(context.Background(), decodeEvent(t, `{"metadata":{"deviceId":"d1"},"data":{"t":20}}`))
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("err = %v, want unavailable", err)
	}
}
