package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Strob0t/iotbridge/internal/domain/identity"
)

// RequireAdmin returns middleware that admits only callers authorized by policy.
func RequireAdmin(policy identity.AdminPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := ClaimsFromContext(r.Context())
			if c == nil {
				deny(w, http.StatusUnauthorized, "authorization required")
				return
			}
			if !policy.Authorize(c) {
				slog.WarnContext(r.Context(), "admin access denied",
					"subject", c.Subject, "realm", c.Realm, "path", r.URL.Path)
				deny(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
