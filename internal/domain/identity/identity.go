// Package identity defines caller claims and the admin authorization guard.
package identity

// Claims is the authenticated identity of an inbound caller.
type Claims struct {
	Subject  string   `json:"sub"`
	Username string   `json:"preferred_username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Realm    string   `json:"realm"`
	Roles    []string `json:"roles"`
}

// DefaultAdminRealm is the platform's own administrative organization.
const DefaultAdminRealm = "cdm"

// DefaultAdminRoles are the role names that grant JOIN administration.
var DefaultAdminRoles = []string{"cdm-admin", "platform-admin"}

// AdminPolicy decides who may list, approve and reject JOIN requests.
type AdminPolicy struct {
	Realm string
	Roles map[string]bool
}

// NewAdminPolicy builds a policy for the given realm and role names.
func NewAdminPolicy(realm string, roles []string) AdminPolicy {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return AdminPolicy{Realm: realm, Roles: set}
}

// Authorize reports whether c belongs to the admin realm and holds an admin role.
// Role names are only meaningful inside their own realm.
func (p AdminPolicy) Authorize(c *Claims) bool {
	if c == nil || c.Realm != p.Realm {
		return false
	}
	for _, r := range c.Roles {
		if p.Roles[r] {
			return true
		}
	}
	return false
}
