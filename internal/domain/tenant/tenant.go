// Package tenant defines the provider-side tenant lifecycle: an identity
// realm with an initial admin and an isolated messaging namespace.
package tenant

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/join"
)

// Names of the best-effort steps of create and delete, in order.
const (
	StepKeycloak = "keycloak"
	StepRabbitMQ = "rabbitmq"
)

// AdminRole is granted to the initial realm admin.
const AdminRole = "cdm-admin"

// RealmRoles are created in every tenant realm.
var RealmRoles = []string{"cdm-admin", "cdm-operator", "cdm-viewer"}

// PasswordLength is the length of generated initial passwords.
const PasswordLength = 24

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// PasswordHint accompanies a freshly generated admin password.
const PasswordHint = "Save the admin_password, it will not be shown again. " +
	"The admin user must change it on first login."

var protectedRealms = map[string]bool{"master": true, "cdm": true}

// ValidateRealmID checks that id is a usable tenant ID and not one of the
// provider's own realms.
func ValidateRealmID(id string) error {
	if protectedRealms[id] {
		return domain.Validationf("Realm '%s' is protected", id)
	}
	return join.ValidateTenantID(id)
}

// CreateRequest asks for a new tenant.
type CreateRequest struct {
	RealmID     string `json:"realm_id"`
	DisplayName string `json:"display_name,omitempty"`
	AdminEmail  string `json:"admin_email,omitempty"`
	AdminUser   string `json:"admin_user,omitempty"`
}

// Normalize trims and lowercases the realm ID and fills defaults derived from it.
func (r *CreateRequest) Normalize() {
	r.RealmID = strings.ToLower(strings.TrimSpace(r.RealmID))
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	r.AdminEmail = strings.TrimSpace(r.AdminEmail)
	r.AdminUser = strings.TrimSpace(r.AdminUser)
	if r.DisplayName == "" {
		r.DisplayName = r.RealmID
	}
	if r.AdminEmail == "" {
		r.AdminEmail = "admin@" + r.RealmID + ".local"
	}
	if r.AdminUser == "" {
		r.AdminUser = r.RealmID + "-admin"
	}
}

// Validate normalizes r and checks the realm ID.
func (r *CreateRequest) Validate() error {
	r.Normalize()
	return ValidateRealmID(r.RealmID)
}

// Created is the answer to a create call. AdminPassword is temporary and
// returned only here.
type Created struct {
	RealmID       string            `json:"realm_id"`
	DisplayName   string            `json:"display_name"`
	AdminUser     string            `json:"admin_user"`
	AdminEmail    string            `json:"admin_email"`
	AdminPassword string            `json:"admin_password"`
	Results       map[string]string `json:"results"`
	Errors        map[string]string `json:"errors"`
	Hint          string            `json:"hint"`
}

// Deleted is the answer to a delete call.
type Deleted struct {
	RealmID string            `json:"realm_id"`
	Results map[string]string `json:"results"`
	Errors  map[string]string `json:"errors"`
}

// RandomPassword returns n characters drawn from [A-Za-z0-9] by crypto/rand.
func RandomPassword(n int) (string, error) {
	size := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b[i] = passwordAlphabet[idx.Int64()]
	}
	return string(b), nil
}
