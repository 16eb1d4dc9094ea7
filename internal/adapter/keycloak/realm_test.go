package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/port/federation"
)

type realmCall struct {
	method, path string
	body         json.RawMessage
}

type fakeRealmAPI struct {
	mu          sync.Mutex
	calls       []realmCall
	realmStatus int
	userStatus  int
	deleteCode  int
}

func newRealmClient(t *testing.T, api *fakeRealmAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/realms/master/protocol/openid-connect/token" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":60}`))
			return
		}
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.mu.Lock()
		api.calls = append(api.calls, realmCall{r.Method, r.URL.Path, body})
		api.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/admin/realms":
			w.WriteHeader(api.realmStatus)
		case r.Method == http.MethodPost && r.URL.Path == "/admin/realms/acme/users":
			w.Header().Set("Location", "http://kc/admin/realms/acme/users/u-123")
			w.WriteHeader(api.userStatus)
		case r.Method == http.MethodGet && r.URL.Path == "/admin/realms/acme/roles":
			_, _ = w.Write([]byte(`[{"id":"r1","name":"cdm-admin"},{"id":"r2","name":"cdm-viewer"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/admin/realms/acme/users/u-123/role-mappings/realm":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/admin/realms/acme":
			w.WriteHeader(api.deleteCode)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return New(config.Keycloak{URL: srv.URL, AdminUser: "admin", FederationRealm: "cdm"}, func() string { return "pw" }, nil)
}

func TestCreateRealm(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusConflict} {
		api := &fakeRealmAPI{realmStatus: status}
		c := newRealmClient(t, api)
		if err := c.CreateRealm(context.Background(), "acme", "Acme GmbH", []string{"cdm-admin", "cdm-viewer"}); err != nil {
			t.Fatalf("status %d: CreateRealm: %v", status, err)
		}

		var got struct {
			Realm       string `json:"realm"`
			DisplayName string `json:"displayName"`
			Roles       struct {
				Realm []roleRepresentation `json:"realm"`
			} `json:"roles"`
			Clients []struct {
				ClientID     string `json:"clientId"`
				PublicClient bool   `json:"publicClient"`
			} `json:"clients"`
		}
		if err := json.Unmarshal(api.calls[0].body, &got); err != nil {
			t.Fatal(err)
		}
		if got.Realm != "acme" || got.DisplayName != "Acme GmbH" || len(got.Roles.Realm) != 2 {
			t.Errorf("payload = %+v", got)
		}
		if len(got.Clients) != 1 || got.Clients[0].ClientID != PortalClientID || got.Clients[0].PublicClient {
			t.Errorf("clients = %+v", got.Clients)
		}
	}
}

func TestCreateRealm_ServerError(t *testing.T) {
	c := newRealmClient(t, &fakeRealmAPI{realmStatus: http.StatusForbidden})
	err := c.CreateRealm(context.Background(), "acme", "acme", nil)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}
}

func TestCreateUser_MapsRoles(t *testing.T) {
	api := &fakeRealmAPI{userStatus: http.StatusCreated}
	c := newRealmClient(t, api)
	err := c.CreateUser(context.Background(), "acme", federation.User{
		Username: "acme-admin",
		Email:    "admin@acme.local",
		Password: "temp",
		Roles:    []string{"cdm-admin"},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(api.calls) != 3 {
		t.Fatalf("calls = %+v", api.calls)
	}

	var user struct {
		Username    string `json:"username"`
		Credentials []struct {
			Value     string `json:"value"`
			Temporary bool   `json:"temporary"`
		} `json:"credentials"`
	}
	_ = json.Unmarshal(api.calls[0].body, &user)
	if user.Username != "acme-admin" || len(user.Credentials) != 1 || user.Credentials[0].Value != "temp" || !user.Credentials[0].Temporary {
		t.Errorf("user payload = %s", api.calls[0].body)
	}

	var mapped []roleRepresentation
	_ = json.Unmarshal(api.calls[2].body, &mapped)
	if len(mapped) != 1 || mapped[0].ID != "r1" || mapped[0].Name != "cdm-admin" {
		t.Errorf("mapped roles = %+v", mapped)
	}
}

func TestCreateUser_ExistingUserUntouched(t *testing.T) {
	api := &fakeRealmAPI{userStatus: http.StatusConflict}
	c := newRealmClient(t, api)
	if err := c.CreateUser(context.Background(), "acme", federation.User{Username: "acme-admin", Roles: []string{"cdm-admin"}}); err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 1 {
		t.Errorf("calls after 409 = %+v", api.calls)
	}
}

func TestCreateUser_UnknownRole(t *testing.T) {
	api := &fakeRealmAPI{userStatus: http.StatusCreated}
	c := newRealmClient(t, api)
	err := c.CreateUser(context.Background(), "acme", federation.User{Username: "x", Roles: []string{"cdm-operator"}})
	if err == nil {
		t.Fatal("expected error for a role missing from the realm")
	}
}

func TestDeleteRealm(t *testing.T) {
	for _, tt := range []struct {
		status  int
		wantErr bool
	}{
		{http.StatusNoContent, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
	} {
		c := newRealmClient(t, &fakeRealmAPI{deleteCode: tt.status})
		err := c.DeleteRealm(context.Background(), "acme")
		if (err != nil) != tt.wantErr {
			t.Errorf("status %d: err = %v", tt.status, err)
		}
	}
}
