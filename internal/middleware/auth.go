package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/Strob0t/iotbridge/internal/domain/identity"
)

type claimsCtxKey struct{}

// TokenVerifier turns a bearer token into caller claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*identity.Claims, error)
}

// OIDCVerifier verifies access tokens issued by an OIDC provider such as Keycloak.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	clientID string
}

// DiscoverVerifier fetches the issuer's discovery document and key set.
// clientID, when set, must match the token's azp claim.
func DiscoverVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery %s: %w", issuerURL, err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(verifierConfig()),
		clientID: clientID,
	}, nil
}

// NewVerifier builds a verifier over a fixed key set.
func NewVerifier(issuerURL string, keys oidc.KeySet, clientID string) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keys, verifierConfig()),
		clientID: clientID,
	}
}

// Keycloak access tokens carry "account" as audience; the client is checked through azp.
func verifierConfig() *oidc.Config {
	return &oidc.Config{
		SkipClientIDCheck:    true,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	}
}

type accessTokenClaims struct {
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	AuthorizedParty   string `json:"azp"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Verify checks signature, issuer and expiry and extracts the claims.
// The realm is the last path segment of the issuer URL.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*identity.Claims, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var c accessTokenClaims
	if err := tok.Claims(&c); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if v.clientID != "" && c.AuthorizedParty != v.clientID {
		return nil, errors.New("token was issued to another client")
	}
	return &identity.Claims{
		Subject:  tok.Subject,
		Username: c.PreferredUsername,
		Email:    c.Email,
		Realm:    realmFromIssuer(tok.Issuer),
		Roles:    c.RealmAccess.Roles,
	}, nil
}

func realmFromIssuer(iss string) string {
	iss = strings.TrimRight(iss, "/")
	if i := strings.LastIndex(iss, "/realms/"); i >= 0 {
		return iss[i+len("/realms/"):]
	}
	return ""
}

// Auth returns middleware that verifies the bearer token and stores the
// claims in the request context. A nil verifier means the admin API is
// not configured and every request is refused.
func Auth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				deny(w, http.StatusServiceUnavailable, "admin authentication is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, http.StatusUnauthorized, "authorization required")
				return
			}
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				deny(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the authenticated caller, or nil.
func ClaimsFromContext(ctx context.Context) *identity.Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*identity.Claims)
	return c
}

// WithClaims stores c in ctx, for callers that authenticate out of band.
func WithClaims(ctx context.Context, c *identity.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, c)
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
