package service

import (
	"context"
	"log/slog"

	"github.com/Strob0t/iotbridge/internal/domain/event"
	"github.com/Strob0t/iotbridge/internal/domain/tenant"
	"github.com/Strob0t/iotbridge/internal/logger"
	"github.com/Strob0t/iotbridge/internal/port/broadcast"
	"github.com/Strob0t/iotbridge/internal/port/broker"
	"github.com/Strob0t/iotbridge/internal/port/federation"
)

// TenantService creates and removes provider-managed tenants: an identity
// realm with an initial admin plus a password-protected messaging namespace.
type TenantService struct {
	realms  federation.RealmAdmin
	broker  broker.Lifecycle
	events  broadcast.Publisher
	locks   keyedMutex
	newPass func() (string, error)
}

// NewTenantService creates a TenantService. A nil events publisher discards events.
func NewTenantService(realms federation.RealmAdmin, b broker.Lifecycle, events broadcast.Publisher) *TenantService {
	if events == nil {
		events = broadcast.Nop{}
	}
	return &TenantService{
		realms: realms,
		broker: b,
		events: events,
		newPass: func() (string, error) {
			return tenant.RandomPassword(tenant.PasswordLength)
		},
	}
}

// Create provisions the realm with its admin user, then the messaging
// namespace. Each step is best effort and recorded in Results or Errors;
// only an invalid or protected realm ID fails the call.
func (s *TenantService) Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Created, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	adminPassword, err := s.newPass()
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.RealmID)
	defer unlock()
	ctx = logger.WithAttrs(ctx, slog.String("tenant_id", req.RealmID))

	out := &tenant.Created{
		RealmID:       req.RealmID,
		DisplayName:   req.DisplayName,
		AdminUser:     req.AdminUser,
		AdminEmail:    req.AdminEmail,
		AdminPassword: adminPassword,
		Results:       map[string]string{},
		Errors:        map[string]string{},
		Hint:          tenant.PasswordHint,
	}

	err = s.realms.CreateRealm(ctx, req.RealmID, req.DisplayName, tenant.RealmRoles)
	if err == nil {
		err = s.realms.CreateUser(ctx, req.RealmID, federation.User{
			Username: req.AdminUser,
			Email:    req.AdminEmail,
			Password: adminPassword,
			Roles:    []string{tenant.AdminRole},
		})
	}
	s.record(ctx, out.Results, out.Errors, tenant.StepKeycloak, "created", err)

	brokerPassword, err := s.newPass()
	if err == nil {
		var ns *broker.Namespace
		if ns, err = s.broker.ProvisionTenantUser(ctx, req.RealmID, brokerPassword); err == nil {
			out.Results["rabbitmq_user"] = ns.User
			out.Results["rabbitmq_password"] = brokerPassword
		}
	}
	s.record(ctx, out.Results, out.Errors, tenant.StepRabbitMQ, "created", err)

	slog.InfoContext(ctx, "tenant created", "errors", len(out.Errors))
	publish(ctx, s.events, event.Event{
		Kind:       event.KindTenantCreated,
		TenantID:   req.RealmID,
		Attributes: stepAttributes(out.Errors),
	})
	return out, nil
}

// Delete removes the realm and the messaging namespace. Missing resources
// count as removed; other failures are recorded per step.
func (s *TenantService) Delete(ctx context.Context, realmID string) (*tenant.Deleted, error) {
	if err := tenant.ValidateRealmID(realmID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(realmID)
	defer unlock()
	ctx = logger.WithAttrs(ctx, slog.String("tenant_id", realmID))

	out := &tenant.Deleted{RealmID: realmID, Results: map[string]string{}, Errors: map[string]string{}}
	s.record(ctx, out.Results, out.Errors, tenant.StepKeycloak, "deleted", s.realms.DeleteRealm(ctx, realmID))
	s.record(ctx, out.Results, out.Errors, tenant.StepRabbitMQ, "deleted", s.broker.DeprovisionTenant(ctx, realmID))

	slog.InfoContext(ctx, "tenant deleted", "errors", len(out.Errors))
	publish(ctx, s.events, event.Event{
		Kind:       event.KindTenantDeleted,
		TenantID:   realmID,
		Attributes: stepAttributes(out.Errors),
	})
	return out, nil
}

func (s *TenantService) record(ctx context.Context, results, errs map[string]string, step, result string, err error) {
	if err != nil {
		slog.ErrorContext(ctx, "tenant step failed", "step", step, "error", err)
		errs[step] = err.Error()
		return
	}
	slog.InfoContext(ctx, "tenant step done", "step", step)
	results[step] = result
}

// stepAttributes lists the failed steps of an operation, if any.
func stepAttributes(errs map[string]string) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for step := range errs {
		out["failed_"+step] = "true"
	}
	return out
}
