package stepca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// Admin manages provisioners through the step-ca admin API, authenticated
// with tokens signed by the bootstrap admin provisioner.
type Admin struct {
	client *Client
	keys   *keySource
}

var _ pki.ProvisionerAdmin = (*Admin)(nil)

// NewAdmin returns an Admin acting as the given JWK admin provisioner.
func (c *Client) NewAdmin(provisioner string, password func() string) *Admin {
	return &Admin{
		client: c,
		keys:   &keySource{client: c, provisioner: provisioner, password: password},
	}
}

// Invalidate drops the cached admin key.
func (a *Admin) Invalidate() { a.keys.invalidate() }

// ListProvisioners returns every registered provisioner.
func (a *Admin) ListProvisioners(ctx context.Context) ([]pki.Provisioner, error) {
	entries, err := a.client.listProvisioners(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pki.Provisioner, 0, len(entries))
	for _, e := range entries {
		out = append(out, pki.Provisioner{ID: e.ID, Type: e.Type, Name: e.Name})
	}
	return out, nil
}

// AddOIDCProvisioner registers an OIDC provisioner, e.g. for a tenant realm.
func (a *Admin) AddOIDCProvisioner(ctx context.Context, p pki.OIDCProvisioner) (*pki.Provisioner, error) {
	payload := map[string]any{
		"type":                  "OIDC",
		"name":                  p.Name,
		"clientID":              p.ClientID,
		"clientSecret":          p.ClientSecret,
		"configurationEndpoint": p.ConfigurationEndpoint,
		"claims":                nil,
		"options":               nil,
	}
	if len(p.Admins) > 0 {
		payload["admins"] = p.Admins
	}

	resp, err := a.do(ctx, restclient.Request{
		Op:     "add provisioner",
		Method: http.MethodPost,
		Path:   "/admin/provisioners",
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}
	var out pki.Provisioner
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name, out.Type = p.Name, "OIDC"
	}
	return &out, nil
}

// RemoveProvisioner deletes the provisioner called name. An unknown name is a no-op.
func (a *Admin) RemoveProvisioner(ctx context.Context, name string) error {
	provs, err := a.ListProvisioners(ctx)
	if err != nil {
		return err
	}
	var id string
	found := false
	for _, p := range provs {
		if p.Name == name {
			id, found = p.ID, true
			break
		}
	}
	if !found {
		return nil
	}
	if id == "" {
		return fmt.Errorf("provisioner %q has no id", name)
	}

	_, err = a.do(ctx, restclient.Request{
		Op:     "remove provisioner",
		Method: http.MethodDelete,
		Path:   "/admin/provisioners/" + url.PathEscape(id),
		OK:     []int{http.StatusOK, http.StatusNoContent, http.StatusNotFound},
	})
	return err
}

// do sends an admin request with a fresh bearer token.
func (a *Admin) do(ctx context.Context, r restclient.Request) (*restclient.Response, error) {
	key, err := a.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	token, err := adminToken(key, a.keys.provisioner, a.client.adminURL(), a.client.now())
	if err != nil {
		return nil, &IssuanceError{Provisioner: a.keys.provisioner, Op: r.Op, Err: err}
	}
	r.Header = http.Header{"Authorization": []string{"Bearer " + token}}
	r.Timeout = adminTimeout

	resp, err := a.client.rc.Do(ctx, r)
	if err != nil && isUnauthorized(err) {
		a.Invalidate()
	}
	return resp, err
}
