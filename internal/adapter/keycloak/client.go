// Package keycloak registers federation clients in the provider realm and
// manages tenant realms through the Keycloak admin REST API.
package keycloak

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/tenant"
	"github.com/Strob0t/iotbridge/internal/port/federation"
	"github.com/Strob0t/iotbridge/internal/resilience"
)

const (
	serviceName    = "keycloak"
	requestTimeout = 15 * time.Second
	adminClientID  = "admin-cli"
	secretLength   = tenant.PasswordLength
)

// ClientID returns the federation client ID for a tenant.
func ClientID(tenantID string) string { return "cdm-federation-" + tenantID }

// Client is a Keycloak admin API client authenticated as a master-realm admin.
type Client struct {
	rc         *restclient.Client
	httpClient *http.Client
	oauth      oauth2.Config
	user       string
	password   func() string
	realm      string

	mu sync.Mutex
	ts oauth2.TokenSource
}

var (
	_ federation.Registrar  = (*Client)(nil)
	_ federation.RealmAdmin = (*Client)(nil)
)

// New creates a Client for cfg. password is read whenever a new admin
// session has to be established.
func New(cfg config.Keycloak, password func() string, breaker *resilience.Breaker) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	hc := restclient.NewHTTPClient(cfg.InsecureSkipVerify)
	c := &Client{
		rc:         restclient.New(serviceName, base, hc, requestTimeout),
		httpClient: hc,
		oauth: oauth2.Config{
			ClientID: adminClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/realms/master/protocol/openid-connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		user:     cfg.AdminUser,
		password: password,
		realm:    cfg.FederationRealm,
	}
	c.rc.SetAuth(c.authorize)
	if breaker != nil {
		c.rc.SetBreaker(breaker)
	}
	return c
}

// ResetSession drops the cached admin token, e.g. after a password rotation.
func (c *Client) ResetSession() {
	c.mu.Lock()
	c.ts = nil
	c.mu.Unlock()
}

// CreateFederationClient registers the OIDC client a tenant's Keycloak uses
// to federate against the provider realm. 409 counts as success; the
// returned secret is then the freshly generated one, which the tenant admin
// may need to regenerate in the provider console.
func (c *Client) CreateFederationClient(ctx context.Context, tenantID, tenantIdPURL string) (*federation.Client, error) {
	clientID := ClientID(tenantID)
	secret, err := tenant.RandomPassword(secretLength)
	if err != nil {
		return nil, err
	}

	redirects := []string{"*"}
	if tenantIdPURL != "" {
		callback := strings.TrimRight(tenantIdPURL, "/") + "/realms/" + tenantID + "/broker/cdm-provider/endpoint"
		redirects = []string{callback, callback + "/*"}
	}

	payload := map[string]any{
		"clientId":                  clientID,
		"name":                      "CDM Federation – " + tenantID,
		"description":               "OIDC client used by the Tenant Keycloak to federate against the CDM Provider.",
		"enabled":                   true,
		"protocol":                  "openid-connect",
		"publicClient":              false,
		"secret":                    secret,
		"redirectUris":              redirects,
		"webOrigins":                []string{"+"},
		"standardFlowEnabled":       true,
		"implicitFlowEnabled":       false,
		"directAccessGrantsEnabled": false,
		"serviceAccountsEnabled":    false,
	}

	resp, err := c.do(ctx, restclient.Request{
		Op:     "create federation client",
		Method: http.MethodPost,
		Path:   "/admin/realms/" + c.realm + "/clients",
		Body:   payload,
		OK:     []int{http.StatusCreated, http.StatusNoContent, http.StatusOK, http.StatusConflict},
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusConflict {
		slog.InfoContext(ctx, "keycloak federation client exists", "client_id", clientID, "tenant_id", tenantID)
	}
	return &federation.Client{ClientID: clientID, ClientSecret: secret}, nil
}

// do sends r with the admin session and drops the session on 401.
func (c *Client) do(ctx context.Context, r restclient.Request) (*restclient.Response, error) {
	resp, err := c.rc.Do(ctx, r)
	if err != nil && restclient.StatusOf(err) == http.StatusUnauthorized {
		c.ResetSession()
	}
	return resp, err
}

// authorize sets the admin bearer token on r.
func (c *Client) authorize(r *http.Request) error {
	tok, err := c.token(r.Context())
	if err != nil {
		return err
	}
	tok.SetAuthHeader(r)
	return nil
}

// token returns a valid admin token, logging in with the password grant
// when there is no session or the refresh token expired.
func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ts != nil {
		tok, err := c.ts.Token()
		if err == nil {
			return tok, nil
		}
		slog.DebugContext(ctx, "keycloak session refresh failed, logging in again", "error", err)
		c.ts = nil
	}

	octx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.PasswordCredentialsToken(octx, c.user, c.password())
	if err != nil {
		return nil, tokenError(err)
	}
	// Refreshes run outside any single request.
	bg := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
	c.ts = c.oauth.TokenSource(bg, tok)
	return tok, nil
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return domain.NewUpstreamError(serviceName, "admin token", re.Response.StatusCode, re.Body)
	}
	return &domain.UpstreamError{Service: serviceName, Op: "admin token", Err: err}
}
