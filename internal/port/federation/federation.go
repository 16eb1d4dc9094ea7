// Package federation defines the identity-federation client port.
package federation

import "context"

// Client is an OIDC client registration in the provider's realm.
type Client struct {
	ClientID     string
	ClientSecret string
}

// Registrar creates federation clients.
type Registrar interface {
	// CreateFederationClient registers a confidential client whose redirect
	// targets the tenant's broker endpoint. An existing client is success.
	CreateFederationClient(ctx context.Context, tenantID, tenantIdPURL string) (*Client, error)
}

// User is the initial account of a new realm.
type User struct {
	Username string
	Email    string
	// Password is temporary: it must be changed on first login.
	Password string
	Roles    []string
}

// RealmAdmin manages tenant realms.
type RealmAdmin interface {
	// CreateRealm creates a realm with the given realm roles. An existing
	// realm is success.
	CreateRealm(ctx context.Context, realm, displayName string, roles []string) error
	// CreateUser creates u in realm and grants its roles. An existing user
	// is success and keeps its credentials.
	CreateUser(ctx context.Context, realm string, u User) error
	// DeleteRealm removes realm. A missing realm is success.
	DeleteRealm(ctx context.Context, realm string) error
}
