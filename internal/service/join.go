// Package service contains the onboarding application services.
package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/iotbridge/internal/adapter/otel"
	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/domain/join"
	"github.com/Strob0t/iotbridge/internal/logger"
	"github.com/Strob0t/iotbridge/internal/port/broadcast"
	"github.com/Strob0t/iotbridge/internal/port/broker"
	"github.com/Strob0t/iotbridge/internal/port/federation"
	"github.com/Strob0t/iotbridge/internal/port/ipam"
	"github.com/Strob0t/iotbridge/internal/port/joinstore"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// tenantPeerPrefix keeps tenant VPN allocations apart from device IDs in
// the shared allocation table. Device IDs cannot contain ':'.
const tenantPeerPrefix = "tenant:"

// JoinDeps are the collaborators of the JOIN workflow.
type JoinDeps struct {
	Store joinstore.Store
	// SubCA signs tenant intermediate CA requests.
	SubCA pki.Issuer
	// Bridge signs MQTT bridge client certificates.
	Bridge     pki.Issuer
	Roots      pki.RootFetcher
	Broker     broker.Provisioner
	Federation federation.Registrar
	VPN        ipam.Allocator
	Events     broadcast.Publisher
	Metrics    *cfotel.Metrics
	// DiscoveryURL is the provider realm's OIDC discovery document, handed
	// to tenants together with their federation client.
	DiscoveryURL string
}

// JoinService runs the tenant JOIN workflow.
type JoinService struct {
	deps  JoinDeps
	locks keyedMutex
	now   func() time.Time
}

// NewJoinService creates a JoinService. A nil Events publisher discards events.
func NewJoinService(deps JoinDeps) *JoinService {
	if deps.Events == nil {
		deps.Events = broadcast.Nop{}
	}
	return &JoinService{deps: deps, now: time.Now}
}

// Submit stores a pending request for tenantID, replacing a pending or
// rejected one. An approved tenant cannot resubmit.
func (s *JoinService) Submit(ctx context.Context, tenantID string, p join.SubmitPayload) (*join.Request, error) {
	if err := join.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(tenantID)
	defer unlock()

	req, err := s.deps.Store.Update(ctx, tenantID, func(cur *join.Request) (*join.Request, error) {
		if err := cur.CheckResubmit(); err != nil {
			return nil, err
		}
		return join.NewPending(tenantID, p, s.now()), nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "join request stored as pending", "tenant_id", tenantID)
	if s.deps.Metrics != nil {
		s.deps.Metrics.JoinsSubmitted.Add(ctx, 1)
	}
	publish(ctx, s.deps.Events, event.Event{
		Kind:       event.KindJoinSubmitted,
		TenantID:   tenantID,
		Attributes: map[string]string{"display_name": p.DisplayName},
	})
	return req, nil
}

// List returns every request, most recently submitted first.
func (s *JoinService) List(ctx context.Context) ([]*join.Request, error) {
	all, err := s.deps.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*join.Request, 0, len(all))
	for _, r := range all {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].TenantID < out[j].TenantID
	})
	return out, nil
}

// Status returns the tenant-facing view of a request. It has no side effects.
func (s *JoinService) Status(ctx context.Context, tenantID string) (join.StatusView, error) {
	r, err := s.deps.Store.Get(ctx, tenantID)
	if err != nil {
		return join.StatusView{}, err
	}
	return r.View(), nil
}

// Approve provisions the tenant and marks the request approved. Each step
// is best effort: failures are recorded in the returned Errors map and
// never block the transition. Approvals of one tenant are serialized, and
// the final write re-checks the status under the store lock.
func (s *JoinService) Approve(ctx context.Context, tenantID string) (*join.Approval, error) {
	unlock := s.locks.Lock(tenantID)
	defer unlock()

	cur, err := s.deps.Store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := cur.CheckApprovable(); err != nil {
		return nil, err
	}

	start := s.now()
	ctx = logger.WithAttrs(ctx, slog.String("tenant_id", tenantID))
	ctx, span := cfotel.StartApprovalSpan(ctx, tenantID)
	defer span.End()

	a := &approval{svc: s, req: cur, outcome: join.NewOutcome()}
	a.run(ctx, join.StepStepCA, a.signSubCA)
	a.run(ctx, join.StepRabbitMQ, a.provisionBroker)
	a.run(ctx, join.StepMQTTBridgeCert, a.signBridgeCert)
	a.run(ctx, join.StepKeycloak, a.createFederationClient)
	a.run(ctx, join.StepWireGuard, a.allocateTunnel)

	approved, err := s.deps.Store.Update(ctx, tenantID, func(r *join.Request) (*join.Request, error) {
		if r == nil {
			return nil, join.NotFound(tenantID)
		}
		if err := r.Approve(a.bundle, s.now()); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "join request approved", "failed_steps", len(a.outcome.Errors))
	if m := s.deps.Metrics; m != nil {
		m.JoinsApproved.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("complete", len(a.outcome.Errors) == 0),
		))
		m.ApprovalDuration.Record(ctx, s.now().Sub(start).Seconds())
	}
	publish(ctx, s.deps.Events, event.Event{
		Kind:       event.KindJoinApproved,
		TenantID:   tenantID,
		Attributes: a.outcome.Errors,
	})

	return &join.Approval{
		TenantID: tenantID,
		Status:   approved.Status,
		Results:  a.outcome.Results,
		Errors:   a.outcome.Errors,
		Bundle:   approved.Bundle,
	}, nil
}

// Reject marks a pending request rejected. An empty reason records the default text.
func (s *JoinService) Reject(ctx context.Context, tenantID, reason string) (*join.Request, error) {
	unlock := s.locks.Lock(tenantID)
	defer unlock()

	req, err := s.deps.Store.Update(ctx, tenantID, func(r *join.Request) (*join.Request, error) {
		if r == nil {
			return nil, join.NotFound(tenantID)
		}
		if err := r.Reject(reason, s.now()); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "join request rejected", "tenant_id", tenantID, "reason", *req.RejectedReason)
	if s.deps.Metrics != nil {
		s.deps.Metrics.JoinsRejected.Add(ctx, 1)
	}
	publish(ctx, s.deps.Events, event.Event{
		Kind:       event.KindJoinRejected,
		TenantID:   tenantID,
		Attributes: map[string]string{"reason": *req.RejectedReason},
	})
	return req, nil
}

// approval carries the state of one Approve call through its steps.
type approval struct {
	svc     *JoinService
	req     *join.Request
	outcome *join.Outcome
	bundle  join.Bundle
}

// run executes one step and records its result or error.
func (a *approval) run(ctx context.Context, step string, fn func(context.Context) (string, error)) {
	tenantID := a.req.TenantID
	ctx, span := cfotel.StartStepSpan(ctx, tenantID, step)
	result, err := fn(ctx)
	cfotel.EndSpan(span, err)

	status := "ok"
	if err != nil {
		status = "failed"
		a.outcome.Fail(step, err)
		slog.ErrorContext(ctx, "approval step failed", "step", step, "error", err)
	} else {
		a.outcome.Succeed(step, result)
		slog.InfoContext(ctx, "approval step done", "step", step, "result", result)
	}
	if m := a.svc.deps.Metrics; m != nil {
		m.ApprovalSteps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("status", status),
		))
	}
}

func (a *approval) signSubCA(ctx context.Context) (string, error) {
	tenantID := a.req.TenantID
	cert, err := a.svc.deps.SubCA.Sign(ctx, a.req.SubCACSR, tenantID, []string{tenantID})
	if err != nil {
		return "", err
	}
	a.bundle.SignedCert = join.Str(cert.CertPEM)

	root := cert.ChainPEM
	if root == "" && a.svc.deps.Roots != nil {
		root, err = a.svc.deps.Roots.Root(ctx)
		if err != nil {
			slog.WarnContext(ctx, "root CA fetch failed", "error", err)
		}
	}
	if root != "" {
		a.bundle.RootCACert = join.Str(root)
	}
	return "signed", nil
}

func (a *approval) provisionBroker(ctx context.Context) (string, error) {
	ns, err := a.svc.deps.Broker.ProvisionTenant(ctx, a.req.TenantID)
	if err != nil {
		return "", err
	}
	a.bundle.RabbitMQURL = join.Str(ns.URL)
	a.bundle.RabbitMQVhost = join.Str(ns.Vhost)
	a.bundle.RabbitMQUser = join.Str(ns.User)
	return "provisioned", nil
}

func (a *approval) signBridgeCert(ctx context.Context) (string, error) {
	if a.req.MQTTBridgeCSR == "" {
		return "skipped (no mqtt_bridge_csr provided)", nil
	}
	account := join.BridgeAccount(a.req.TenantID)
	cert, err := a.svc.deps.Bridge.Sign(ctx, a.req.MQTTBridgeCSR, account, []string{account})
	if err != nil {
		return "", err
	}
	a.bundle.MQTTBridgeCert = join.Str(cert.CertPEM)
	return "signed", nil
}

func (a *approval) createFederationClient(ctx context.Context) (string, error) {
	c, err := a.svc.deps.Federation.CreateFederationClient(ctx, a.req.TenantID, a.req.KeycloakURL)
	if err != nil {
		return "", err
	}
	a.bundle.IdPClientID = join.Str(c.ClientID)
	a.bundle.IdPClientSecret = join.Str(c.ClientSecret)
	a.bundle.DiscoveryURL = join.Str(a.svc.deps.DiscoveryURL)
	return "client_created", nil
}

func (a *approval) allocateTunnel(ctx context.Context) (string, error) {
	vpn := a.svc.deps.VPN
	peer := tenantPeerPrefix + a.req.TenantID
	addr, err := vpn.Allocate(ctx, peer)
	if err != nil {
		return "", err
	}
	if _, err := vpn.ClientConfig(ctx, peer, addr, a.req.WGPubkey); err != nil {
		return "", err
	}
	if m := a.svc.deps.Metrics; m != nil {
		m.Allocations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "tenant")))
	}
	a.bundle.WGServerPubkey = join.Str(vpn.ServerPublicKey())
	a.bundle.WGServerEndpoint = join.Str(vpn.Endpoint())
	a.bundle.WGClientIP = join.Str(addr.String())
	return "allocated " + addr.String(), nil
}
