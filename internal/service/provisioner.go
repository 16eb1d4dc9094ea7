package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// ProvisionerService manages the CA's provisioner registrations.
type ProvisionerService struct {
	admin pki.ProvisionerAdmin
}

// NewProvisionerService creates a ProvisionerService.
func NewProvisionerService(admin pki.ProvisionerAdmin) *ProvisionerService {
	return &ProvisionerService{admin: admin}
}

// List returns every registered provisioner.
func (s *ProvisionerService) List(ctx context.Context) ([]pki.Provisioner, error) {
	return s.admin.ListProvisioners(ctx)
}

// AddOIDC registers an OIDC provisioner.
func (s *ProvisionerService) AddOIDC(ctx context.Context, p pki.OIDCProvisioner) (*pki.Provisioner, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, domain.Validationf("name is required")
	}
	if p.ClientID == "" {
		return nil, domain.Validationf("clientID is required")
	}
	u, err := url.Parse(p.ConfigurationEndpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, domain.Validationf("configurationEndpoint must be an absolute http(s) URL")
	}

	created, err := s.admin.AddOIDCProvisioner(ctx, p)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "oidc provisioner added", "name", created.Name)
	return created, nil
}

// Remove deletes the provisioner called name. Unknown names succeed.
func (s *ProvisionerService) Remove(ctx context.Context, name string) error {
	if name == "" {
		return domain.Validationf("name is required")
	}
	if err := s.admin.RemoveProvisioner(ctx, name); err != nil {
		return err
	}
	slog.InfoContext(ctx, "provisioner removed", "name", name)
	return nil
}
