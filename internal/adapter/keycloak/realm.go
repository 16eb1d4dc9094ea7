package keycloak

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/port/federation"
)

// PortalClientID is the OIDC client of the tenant portal in every tenant realm.
const PortalClientID = "portal"

type roleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateRealm creates a tenant realm with the given realm roles and the
// confidential portal client. 409 counts as success.
func (c *Client) CreateRealm(ctx context.Context, realm, displayName string, roles []string) error {
	realmRoles := make([]roleRepresentation, 0, len(roles))
	for _, r := range roles {
		realmRoles = append(realmRoles, roleRepresentation{Name: r})
	}
	payload := map[string]any{
		"id":                          realm,
		"realm":                       realm,
		"displayName":                 displayName,
		"enabled":                     true,
		"sslRequired":                 "external",
		"registrationAllowed":         false,
		"loginWithEmailAllowed":       true,
		"duplicateEmailsAllowed":      false,
		"resetPasswordAllowed":        true,
		"editUsernameAllowed":         false,
		"bruteForceProtected":         true,
		"roles":                       map[string]any{"realm": realmRoles},
		"defaultDefaultClientScopes":  []string{"profile", "email", "roles", "web-origins"},
		"defaultOptionalClientScopes": []string{"offline_access", "address", "phone"},
		"eventsEnabled":               true,
		"eventsListeners":             []string{"jboss-logging"},
		"adminEventsEnabled":          true,
		"adminEventsDetailsEnabled":   true,
		"clients": []map[string]any{{
			"clientId":                  PortalClientID,
			"name":                      "CDM Tenant Portal",
			"enabled":                   true,
			"protocol":                  "openid-connect",
			"publicClient":              false,
			"redirectUris":              []string{"*"},
			"webOrigins":                []string{"*"},
			"standardFlowEnabled":       true,
			"implicitFlowEnabled":       false,
			"directAccessGrantsEnabled": false,
		}},
	}

	resp, err := c.do(ctx, restclient.Request{
		Op:     "create realm",
		Method: http.MethodPost,
		Path:   "/admin/realms",
		Body:   payload,
		OK:     []int{http.StatusCreated, http.StatusConflict},
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "keycloak realm created", "realm", realm, "existed", resp.Status == http.StatusConflict)
	return nil
}

// CreateUser creates u with a temporary password and maps its realm roles.
// An existing user (409) is left untouched.
func (c *Client) CreateUser(ctx context.Context, realm string, u federation.User) error {
	payload := map[string]any{
		"username":      u.Username,
		"email":         u.Email,
		"enabled":       true,
		"emailVerified": true,
		"credentials": []map[string]any{{
			"type":      "password",
			"value":     u.Password,
			"temporary": true,
		}},
	}
	resp, err := c.do(ctx, restclient.Request{
		Op:     "create user",
		Method: http.MethodPost,
		Path:   "/admin/realms/" + realm + "/users",
		Body:   payload,
		OK:     []int{http.StatusCreated, http.StatusConflict},
	})
	if err != nil {
		return err
	}
	if resp.Status == http.StatusConflict {
		slog.InfoContext(ctx, "keycloak user exists", "realm", realm, "username", u.Username)
		return nil
	}
	if len(u.Roles) == 0 {
		return nil
	}

	userID := path.Base(strings.TrimRight(resp.Header.Get("Location"), "/"))
	if userID == "" || userID == "." || userID == "/" {
		return fmt.Errorf("%s create user: no user id in Location header", serviceName)
	}

	resp, err = c.do(ctx, restclient.Request{
		Op:     "list roles",
		Method: http.MethodGet,
		Path:   "/admin/realms/" + realm + "/roles",
	})
	if err != nil {
		return err
	}
	var all []roleRepresentation
	if err := resp.JSON(&all); err != nil {
		return fmt.Errorf("%s list roles: %w", serviceName, err)
	}
	mapped := make([]roleRepresentation, 0, len(u.Roles))
	for _, r := range all {
		for _, want := range u.Roles {
			if r.Name == want {
				mapped = append(mapped, r)
			}
		}
	}
	if len(mapped) != len(u.Roles) {
		return fmt.Errorf("%s map roles: realm %s lacks some of %v", serviceName, realm, u.Roles)
	}

	_, err = c.do(ctx, restclient.Request{
		Op:     "map realm roles",
		Method: http.MethodPost,
		Path:   "/admin/realms/" + realm + "/users/" + userID + "/role-mappings/realm",
		Body:   mapped,
		OK:     []int{http.StatusNoContent, http.StatusOK},
	})
	return err
}

// DeleteRealm removes realm. 404 counts as success.
func (c *Client) DeleteRealm(ctx context.Context, realm string) error {
	_, err := c.do(ctx, restclient.Request{
		Op:     "delete realm",
		Method: http.MethodDelete,
		Path:   "/admin/realms/" + realm,
		OK:     []int{http.StatusNoContent, http.StatusNotFound},
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "keycloak realm deleted", "realm", realm)
	return nil
}
