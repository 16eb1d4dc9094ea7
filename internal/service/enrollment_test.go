package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/device"
	"github.com/Strob0t/iotbridge/internal/domain/event"
)

type enrollFixture struct {
	svc      *EnrollmentService
	issuer   *mockIssuer
	registry *mockRegistry
	events   *recordingPublisher
}

func newEnrollFixture(t *testing.T) *enrollFixture {
	t.Helper()
	f := &enrollFixture{
		issuer:   &mockIssuer{chain: "CHAIN"},
		registry: newMockRegistry(),
		events:   &recordingPublisher{},
	}
	f.svc = NewEnrollmentService(f.issuer, nil, f.registry, newTestAllocator(t), f.events, nil)
	return f
}

func TestEnrollmentService_EnrollTwiceIsIdempotent(t *testing.T) {
	f := newEnrollFixture(t)
	ctx := context.Background()
	req := device.EnrollRequest{CSR: newCSR(t, "dev-1"), DeviceName: "Sensor 1"}

	first, err := f.svc.Enroll(ctx, "dev-1", req)
	if err != nil {
		t.Fatalf("first Enroll: %v", err)
	}
	second, err := f.svc.Enroll(ctx, "dev-1", req)
	if err != nil {
		t.Fatalf("second Enroll: %v", err)
	}

	if first.WireGuardIP != second.WireGuardIP {
		t.Errorf("addresses differ: %s vs %s", first.WireGuardIP, second.WireGuardIP)
	}
	if f.registry.creates != 1 {
		t.Errorf("CreateTarget called %d times, want 1", f.registry.creates)
	}
	if got := f.registry.attrs["dev-1"]["device_type"]; got != device.DefaultType {
		t.Errorf("device_type attribute = %q", got)
	}
	if first.Certificate != "CERT(dev-1)" || first.CAChain != "CHAIN" {
		t.Errorf("result = %+v", first)
	}
	if !strings.Contains(first.WireGuardConfig, "Address = "+first.WireGuardIP+"/24") {
		t.Errorf("config missing address:\n%s", first.WireGuardConfig)
	}
	if got := f.events.kinds(); len(got) != 2 || got[0] != event.KindDeviceEnrolled {
		t.Errorf("events = %v", got)
	}
}

func TestEnrollmentService_InvalidCSRMakesNoCalls(t *testing.T) {
	f := newEnrollFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  device.EnrollRequest
	}{
		{"garbage", device.EnrollRequest{CSR: "not a csr", DeviceName: "x"}},
		{"missing name", device.EnrollRequest{CSR: newCSR(t, "dev-1")}},
		{"missing csr", device.EnrollRequest{DeviceName: "x"}},
		{"bad wg key", device.EnrollRequest{CSR: newCSR(t, "dev-1"), DeviceName: "x", WGPublicKey: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Enroll(ctx, "dev-1", tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
	if f.issuer.calls() != 0 || f.registry.creates != 0 {
		t.Errorf("external calls made: sign=%d create=%d", f.issuer.calls(), f.registry.creates)
	}
}

func TestEnrollmentService_SigningFailureAborts(t *testing.T) {
	f := newEnrollFixture(t)
	f.issuer.err = domain.NewUpstreamError("step-ca", "sign", 400, []byte("bad csr"))

	_, err := f.svc.Enroll(context.Background(), "dev-1", device.EnrollRequest{CSR: newCSR(t, "dev-1"), DeviceName: "x"})
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}
	if !strings.HasPrefix(err.Error(), "PKI signing failed") {
		t.Errorf("err = %q", err)
	}
	if f.registry.creates != 0 {
		t.Error("registry should not be called after signing failed")
	}
}

func TestEnrollmentService_RegistryFailureAborts(t *testing.T) {
	f := newEnrollFixture(t)
	f.registry.createErr = domain.NewUpstreamError("hawkbit", "create target", 500, nil)

	_, err := f.svc.Enroll(context.Background(), "dev-1", device.EnrollRequest{CSR: newCSR(t, "dev-1"), DeviceName: "x"})
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}
	if !strings.HasPrefix(err.Error(), "hawkBit provisioning failed") {
		t.Errorf("err = %q", err)
	}
	if len(f.events.kinds()) != 0 {
		t.Error("no event expected for a failed enrollment")
	}
}

func TestEnrollmentService_CreateConflictTolerated(t *testing.T) {
	f := newEnrollFixture(t)
	f.registry.createErr = domain.NewUpstreamError("hawkbit", "create target", 409, []byte("exists"))

	res, err := f.svc.Enroll(context.Background(), "dev-1", device.EnrollRequest{CSR: newCSR(t, "dev-1"), DeviceName: "x"})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if res.WireGuardIP == "" {
		t.Error("expected an address")
	}
}

func TestEnrollmentService_TenantAllocationUnreachable(t *testing.T) {
	ctx := context.Background()
	vpn := newTestAllocator(t)
	joins := NewJoinService(JoinDeps{
		Store:      newTestStore(t),
		SubCA:      &mockIssuer{chain: "ROOT"},
		Bridge:     &mockIssuer{},
		Broker:     &mockBroker{},
		Federation: &mockFederation{},
		VPN:        vpn,
	})
	if _, err := joins.Submit(ctx, "acme", payload()); err != nil {
		t.Fatal(err)
	}
	approval, err := joins.Approve(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if approval.Bundle.WGClientIP == nil {
		t.Fatalf("tenant got no address: %v", approval.Errors)
	}

	registry := newMockRegistry()
	svc := NewEnrollmentService(&mockIssuer{chain: "CHAIN"}, nil, registry, vpn, nil, nil)
	req := device.EnrollRequest{CSR: newCSR(t, "x"), DeviceName: "x", WGPublicKey: testWGKey}
	for _, id := range []string{tenantPeerPrefix + "acme", "acme:1", "dev 1", "dev-1\nAllowedIPs = 0.0.0.0/0"} {
		if _, err := svc.Enroll(ctx, id, req); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Enroll(%q) err = %v, want validation", id, err)
		}
	}

	res, err := svc.Enroll(ctx, "dev-1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.WireGuardIP == *approval.Bundle.WGClientIP {
		t.Errorf("device reused the tenant address %s", res.WireGuardIP)
	}
	peers, err := vpn.Peers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 {
		t.Errorf("peers = %v, want tenant and dev-1 only", peers)
	}
}
