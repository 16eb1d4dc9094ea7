package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/iotbridge/internal/domain/identity"
	"github.com/Strob0t/iotbridge/internal/middleware"
)

// RouteOptions carries the per-group middleware of the API.
type RouteOptions struct {
	// Verifier authenticates admin bearer tokens. Nil answers 503 on admin routes.
	Verifier    middleware.TokenVerifier
	AdminPolicy identity.AdminPolicy
	// RateLimit throttles the unauthenticated routes. Nil disables it.
	RateLimit *middleware.RateLimiter
	// Idempotency replays POST responses by Idempotency-Key. Nil disables it.
	Idempotency func(http.Handler) http.Handler
	// WebhookToken returns the shared secret of the ThingsBoard rule chain.
	WebhookToken func() string
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	var public chi.Middlewares
	if opts.RateLimit != nil {
		public = chi.Middlewares{opts.RateLimit.Handler}
	}
	replay := append(chi.Middlewares{}, public...)
	if opts.Idempotency != nil {
		replay = append(replay, opts.Idempotency)
	}
	admin := chi.Chain(middleware.Auth(opts.Verifier), middleware.RequireAdmin(opts.AdminPolicy))
	webhookToken := opts.WebhookToken
	if webhookToken == nil {
		webhookToken = func() string { return "" }
	}

	r.Get("/health", h.Health)
	r.Get("/ready", h.Readiness)

	r.Route("/portal/admin", func(r chi.Router) {
		// Tenant-Stack facing, unauthenticated
		r.With(replay...).Post("/join-request/{tenant_id}", h.SubmitJoinRequest)
		r.With(public...).Get("/tenants/{tenant_id}/join-status", h.JoinStatus)

		// Provider admin
		r.Group(func(r chi.Router) {
			r.Use(admin...)
			r.Get("/join-requests", h.ListJoinRequests)
			r.Post("/tenants/{tenant_id}/approve", h.ApproveJoinRequest)
			r.Post("/tenants/{tenant_id}/reject", h.RejectJoinRequest)
			r.Post("/tenants", handleCreate(h.Tenants.Create))
			r.Delete("/tenants/{tenant_id}", h.DeleteTenant)
		})
	})

	r.With(replay...).Post("/devices/{device_id}/enroll", h.EnrollDevice)

	r.Route("/webhooks/thingsboard", func(r chi.Router) {
		r.Use(middleware.WebhookToken(webhookToken))
		r.Post("/", h.ThingsBoardDevice)
		r.Post("/telemetry", h.ThingsBoardTelemetry)
	})

	r.Route("/admin/provisioners", func(r chi.Router) {
		r.Use(admin...)
		if h.Provisioners == nil {
			r.HandleFunc("/*", provisionersDisabled)
			r.HandleFunc("/", provisionersDisabled)
			return
		}
		r.Get("/", handleList(h.Provisioners.List))
		r.Post("/oidc", handleCreate(h.Provisioners.AddOIDC))
		r.Delete("/{name}", handleDelete("name", h.Provisioners.Remove))
	})
}

func provisionersDisabled(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusServiceUnavailable, "provisioner administration is not configured")
}
