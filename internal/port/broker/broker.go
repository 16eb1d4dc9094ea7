// Package broker defines the messaging-namespace provisioning port.
package broker

import "context"

// Namespace describes the isolated messaging resources of one tenant.
type Namespace struct {
	URL   string
	Vhost string
	User  string
}

// Provisioner creates per-tenant messaging namespaces.
type Provisioner interface {
	// ProvisionTenant creates the namespace and a certificate-authenticated
	// bridge account scoped to it. Existing resources are left in place.
	ProvisionTenant(ctx context.Context, tenantID string) (*Namespace, error)
}

// Lifecycle creates and removes complete tenant namespaces.
type Lifecycle interface {
	// ProvisionTenantUser creates the namespace and a password account
	// named after the tenant with full rights on it.
	ProvisionTenantUser(ctx context.Context, tenantID, password string) (*Namespace, error)
	// DeprovisionTenant removes the namespace and every tenant account.
	// Missing resources are ignored.
	DeprovisionTenant(ctx context.Context, tenantID string) error
}
