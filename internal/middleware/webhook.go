package middleware

import (
	"crypto/subtle"
	"net/http"
)

// HeaderWebhookToken carries the shared secret of rule-engine webhook calls.
const HeaderWebhookToken = "X-Webhook-Token"

// WebhookToken returns middleware that compares the X-Webhook-Token header
// with token() in constant time. An empty token leaves the route open,
// matching a ThingsBoard rule chain without custom headers.
func WebhookToken(token func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := token()
			if want == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(HeaderWebhookToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				deny(w, http.StatusForbidden, "invalid webhook token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
