// Package pki defines the Credential Issuance Gateway ports.
package pki

import "context"

// Certificate is a signed leaf plus the chain returned by the CA.
type Certificate struct {
	CertPEM  string
	ChainPEM string
}

// Issuer signs CSRs under one provisioner.
type Issuer interface {
	// Sign submits csrPEM with a one-time token whose subject is subject and
	// whose SAN list is sans.
	Sign(ctx context.Context, csrPEM, subject string, sans []string) (*Certificate, error)
}

// RootFetcher returns the CA root certificate.
type RootFetcher interface {
	// Root returns the PEM root for the configured fingerprint, or "" when none is configured.
	Root(ctx context.Context) (string, error)
}

// Provisioner is a provisioner registration as listed by the CA.
type Provisioner struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// OIDCProvisioner describes a new OIDC provisioner registration.
type OIDCProvisioner struct {
	Name                  string   `json:"name"`
	ClientID              string   `json:"clientID"`
	ClientSecret          string   `json:"clientSecret"`
	ConfigurationEndpoint string   `json:"configurationEndpoint"`
	Admins                []string `json:"admins,omitempty"`
}

// ProvisionerAdmin manages provisioner registrations.
type ProvisionerAdmin interface {
	ListProvisioners(ctx context.Context) ([]Provisioner, error)
	AddOIDCProvisioner(ctx context.Context, p OIDCProvisioner) (*Provisioner, error)
	// RemoveProvisioner deletes by name. An unknown name is not an error.
	RemoveProvisioner(ctx context.Context, name string) error
}
