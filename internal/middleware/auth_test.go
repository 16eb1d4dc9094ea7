package middleware_test

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/Strob0t/iotbridge/internal/domain/identity"
	"github.com/Strob0t/iotbridge/internal/middleware"
)

const testIssuer = "https://sso.example.com/auth/realms/cdm"

type tokenMinter struct {
	t      *testing.T
	signer jose.Signer
	keys   oidc.KeySet
}

func newTokenMinter(t *testing.T) *tokenMinter {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &tokenMinter{
		t:      t,
		signer: signer,
		keys:   &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
	}
}

func (m *tokenMinter) mint(iss, azp string, roles []string, ttl time.Duration) string {
	m.t.Helper()
	now := time.Now()
	extra := map[string]any{
		"azp":                azp,
		"preferred_username": "alice",
		"realm_access":       map[string]any{"roles": roles},
	}
	tok, err := jwt.Signed(m.signer).Claims(jwt.Claims{
		Issuer:   iss,
		Subject:  "user-1",
		Audience: jwt.Audience{"account"},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}).Claims(extra).Serialize()
	if err != nil {
		m.t.Fatal(err)
	}
	return tok
}

func serveAuth(v middleware.TokenVerifier, header string) (*httptest.ResponseRecorder, *identity.Claims) {
	var got *identity.Claims
	h := middleware.Auth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/portal/admin/join-requests", http.NoBody)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestAuth_ValidToken(t *testing.T) {
	m := newTokenMinter(t)
	v := middleware.NewVerifier(testIssuer, m.keys, "iot-bridge-portal")

	rec, claims := serveAuth(v, "Bearer "+m.mint(testIssuer, "iot-bridge-portal", []string{"cdm-admin"}, time.Minute))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if claims == nil {
		t.Fatal("expected claims in context")
	}
	if claims.Realm != "cdm" || claims.Subject != "user-1" || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "cdm-admin" {
		t.Errorf("roles = %v", claims.Roles)
	}
}

func TestAuth_Rejections(t *testing.T) {
	m := newTokenMinter(t)
	v := middleware.NewVerifier(testIssuer, m.keys, "iot-bridge-portal")
	other := newTokenMinter(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic YWRtaW46YWRtaW4="},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + m.mint(testIssuer, "iot-bridge-portal", nil, -time.Minute)},
		{"wrong issuer", "Bearer " + m.mint("https://evil.example.com/realms/cdm", "iot-bridge-portal", nil, time.Minute)},
		{"wrong client", "Bearer " + m.mint(testIssuer, "other-client", nil, time.Minute)},
		{"foreign key", "Bearer " + other.mint(testIssuer, "iot-bridge-portal", nil, time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, claims := serveAuth(v, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if claims != nil {
				t.Error("handler must not run")
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %q", rec.Body)
			}
		})
	}
}

func TestAuth_NotConfigured(t *testing.T) {
	rec, _ := serveAuth(nil, "Bearer x")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type stubVerifier struct{ claims *identity.Claims }

func (s stubVerifier) Verify(context.Context, string) (*identity.Claims, error) {
	return s.claims, nil
}

func TestAuth_CustomVerifier(t *testing.T) {
	want := &identity.Claims{Subject: "svc", Realm: "cdm"}
	rec, got := serveAuth(stubVerifier{claims: want}, "Bearer anything")
	if rec.Code != http.StatusOK || got != want {
		t.Errorf("status %d, claims %+v", rec.Code, got)
	}
}
