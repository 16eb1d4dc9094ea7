package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Strob0t/iotbridge/internal/adapter/jsonstore"
	"github.com/Strob0t/iotbridge/internal/adapter/wireguard"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/domain/webhook"
	"github.com/Strob0t/iotbridge/internal/port/broker"
	"github.com/Strob0t/iotbridge/internal/port/devicemgmt"
	"github.com/Strob0t/iotbridge/internal/port/federation"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// mockIssuer implements pki.Issuer.
type mockIssuer struct {
	mu       sync.Mutex
	err      error
	chain    string
	subjects []string
}

func (m *mockIssuer) Sign(_ context.Context, _, subject string, _ []string) (*pki.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	if m.err != nil {
		return nil, m.err
	}
	return &pki.Certificate{CertPEM: "CERT(" + subject + ")", ChainPEM: m.chain}, nil
}

func (m *mockIssuer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subjects)
}

// mockRoots implements pki.RootFetcher.
type mockRoots struct{ pem string }

func (m mockRoots) Root(context.Context) (string, error) { return m.pem, nil }

// mockBroker implements broker.Provisioner.
type mockBroker struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *mockBroker) ProvisionTenant(_ context.Context, tenantID string) (*broker.Namespace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &broker.Namespace{URL: "amqps://broker:5671", Vhost: tenantID, User: tenantID + "-mqtt-bridge"}, nil
}

// mockFederation implements federation.Registrar.
type mockFederation struct {
	err error
}

func (m *mockFederation) CreateFederationClient(_ context.Context, tenantID, _ string) (*federation.Client, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &federation.Client{ClientID: "tenant-" + tenantID, ClientSecret: "s3cret"}, nil
}

// mockRegistry implements devicemgmt.Registry.
type mockRegistry struct {
	mu        sync.Mutex
	targets   map[string]devicemgmt.Target
	attrs     map[string]map[string]string
	creates   int
	getErr    error
	createErr error
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{targets: map[string]devicemgmt.Target{}, attrs: map[string]map[string]string{}}
}

func (m *mockRegistry) GetTarget(_ context.Context, id string) (*devicemgmt.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	t, ok := m.targets[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *mockRegistry) CreateTarget(_ context.Context, id, name string, attrs map[string]string) (*devicemgmt.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return nil, m.createErr
	}
	t := devicemgmt.Target{ControllerID: id, Name: name}
	m.targets[id] = t
	m.attrs[id] = attrs
	return &t, nil
}

// mockWriter implements timeseries.Writer.
type mockWriter struct {
	err    error
	points []webhook.Point
}

func (m *mockWriter) Write(_ context.Context, points ...webhook.Point) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, points...)
	return nil
}

// recordingPublisher implements broadcast.Publisher.
type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []event.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

// mockProvisionerAdmin implements pki.ProvisionerAdmin.
type mockProvisionerAdmin struct {
	provisioners []pki.Provisioner
	added        []pki.OIDCProvisioner
	removed      []string
}

func (m *mockProvisionerAdmin) ListProvisioners(context.Context) ([]pki.Provisioner, error) {
	return m.provisioners, nil
}

func (m *mockProvisionerAdmin) AddOIDCProvisioner(_ context.Context, p pki.OIDCProvisioner) (*pki.Provisioner, error) {
	m.added = append(m.added, p)
	return &pki.Provisioner{Type: "OIDC", Name: p.Name}, nil
}

func (m *mockProvisionerAdmin) RemoveProvisioner(_ context.Context, name string) error {
	m.removed = append(m.removed, name)
	return nil
}

func newTestStore(t *testing.T) *jsonstore.Store {
	t.Helper()
	return jsonstore.New(filepath.Join(t.TempDir(), "join_requests.json"))
}

func newTestAllocator(t *testing.T) *wireguard.Allocator {
	t.Helper()
	a, err := wireguard.New(config.WireGuard{
		ConfigDir: t.TempDir(),
		Subnet:    "10.13.13.0/24",
		ServerIP:  "10.13.13.1",
		ServerURL: "vpn.example.com",
		Port:      51820,
	})
	if err != nil {
		t.Fatalf("wireguard.New: %v", err)
	}
	return a
}

// newCSR returns a self-signed PEM CSR for cn.
func newCSR(t *testing.T, cn string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: cn},
	}, key)
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}
