// Package rabbitmq provisions per-tenant virtual hosts and bridge accounts
// through the RabbitMQ management HTTP API.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain/join"
	"github.com/Strob0t/iotbridge/internal/port/broker"
	"github.com/Strob0t/iotbridge/internal/resilience"
)

const (
	serviceName    = "rabbitmq"
	requestTimeout = 10 * time.Second
)

// BridgeUser is the account name of a tenant's MQTT bridge. It equals the
// CN of the bridge client certificate, which is the credential.
func BridgeUser(tenantID string) string { return join.BridgeAccount(tenantID) }

// Client talks to the management API as the admin user.
type Client struct {
	rc      *restclient.Client
	mgmtURL string
}

var (
	_ broker.Provisioner = (*Client)(nil)
	_ broker.Lifecycle   = (*Client)(nil)
)

// New creates a Client. password is read on every request so secret
// reloads apply immediately.
func New(cfg config.RabbitMQ, password func() string, breaker *resilience.Breaker) *Client {
	rc := restclient.New(serviceName, cfg.MgmtURL+"/api", nil, requestTimeout)
	rc.SetAuth(func(r *http.Request) error {
		r.SetBasicAuth(cfg.AdminUser, password())
		return nil
	})
	if breaker != nil {
		rc.SetBreaker(breaker)
	}
	return &Client{rc: rc, mgmtURL: cfg.MgmtURL}
}

// ProvisionTenant creates the tenant vhost and a password-less bridge user
// with full permissions on that vhost only. Existing resources are updated in place.
func (c *Client) ProvisionTenant(ctx context.Context, tenantID string) (*broker.Namespace, error) {
	vhost, user := tenantID, BridgeUser(tenantID)

	if err := c.put(ctx, "create vhost", "/vhosts/"+enc(vhost), map[string]string{
		"description": "Tenant vHost: " + vhost,
	}); err != nil {
		return nil, err
	}
	// An empty password_hash disables password login for the account.
	if err := c.grantUser(ctx, vhost, user, map[string]string{
		"password_hash": "",
		"tags":          "none",
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "rabbitmq tenant provisioned", "tenant_id", tenantID, "user", user)
	return &broker.Namespace{URL: c.mgmtURL, Vhost: vhost, User: user}, nil
}

// ProvisionTenantUser creates the tenant vhost and a password account named
// after the tenant with full permissions on that vhost only.
func (c *Client) ProvisionTenantUser(ctx context.Context, tenantID, password string) (*broker.Namespace, error) {
	if err := c.put(ctx, "create vhost", "/vhosts/"+enc(tenantID), map[string]string{
		"description": "Tenant vHost: " + tenantID,
	}); err != nil {
		return nil, err
	}
	if err := c.grantUser(ctx, tenantID, tenantID, map[string]string{
		"password": password,
		"tags":     "none",
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "rabbitmq tenant user provisioned", "tenant_id", tenantID)
	return &broker.Namespace{URL: c.mgmtURL, Vhost: tenantID, User: tenantID}, nil
}

func (c *Client) grantUser(ctx context.Context, vhost, user string, account map[string]string) error {
	if err := c.put(ctx, "create user", "/users/"+enc(user), account); err != nil {
		return err
	}
	return c.put(ctx, "set permissions", "/permissions/"+enc(vhost)+"/"+enc(user), map[string]string{
		"configure": ".*",
		"write":     ".*",
		"read":      ".*",
	})
}

// DeprovisionTenant removes the tenant vhost, the bridge user and the
// tenant user. Missing resources are ignored.
func (c *Client) DeprovisionTenant(ctx context.Context, tenantID string) error {
	paths := []string{
		"/vhosts/" + enc(tenantID),
		"/users/" + enc(BridgeUser(tenantID)),
		"/users/" + enc(tenantID),
	}
	for _, path := range paths {
		if _, err := c.rc.Do(ctx, restclient.Request{
			Op:     "delete " + path,
			Method: http.MethodDelete,
			Path:   path,
			OK:     []int{http.StatusNoContent, http.StatusNotFound},
		}); err != nil {
			return fmt.Errorf("deprovision %s: %w", tenantID, err)
		}
	}
	return nil
}

func (c *Client) put(ctx context.Context, op, path string, body any) error {
	_, err := c.rc.Do(ctx, restclient.Request{
		Op:     op,
		Method: http.MethodPut,
		Path:   path,
		Body:   body,
		OK:     []int{http.StatusCreated, http.StatusNoContent},
	})
	return err
}

// enc escapes a vhost or user for a path segment; "/" becomes %2F.
func enc(s string) string { return url.PathEscape(s) }
