package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/iotbridge/internal/adapter/http"
	cfotel "github.com/Strob0t/iotbridge/internal/adapter/otel"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain/identity"
	"github.com/Strob0t/iotbridge/internal/logger"
	"github.com/Strob0t/iotbridge/internal/middleware"
	"github.com/Strob0t/iotbridge/internal/secrets"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	var err error
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		err = runAdmin(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	prev := slog.Default()
	slog.SetDefault(log)
	defer func() {
		slog.SetDefault(prev)
		closeLog.Close()
	}()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"store", cfg.Store.Backend,
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Services ---
	a, err := newApp(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer a.close()

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Join:         a.join,
		Enrollment:   a.enrollment,
		Webhooks:     a.webhooks,
		Tenants:      a.tenants,
		Provisioners: a.provisioners,
		Ready:        a.ready,
		Upstreams:    a.upstreams,
		ServiceName:  cfg.Logging.Service,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate)
	opts := cfhttp.RouteOptions{
		Verifier:     adminVerifier(ctx, cfg.Auth),
		AdminPolicy:  identity.NewAdminPolicy(cfg.Auth.AdminRealm, cfg.Auth.AdminRoles),
		RateLimit:    limiter,
		WebhookToken: secret(a.vault, secrets.ThingsBoardWebhookToken),
	}
	if a.replay != nil {
		opts.Idempotency = middleware.Idempotency(a.replay, cfg.NATS.IdempotencyTTL)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)

	cfhttp.MountRoutes(r, handlers, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	var certs *autocert.Manager
	if len(cfg.Server.TLSHosts) > 0 {
		certs = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.TLSHosts...),
			Cache:      autocert.DirCache(cfg.Server.TLSCacheDir),
		}
		srv.TLSConfig = certs.TLSConfig()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reloadOnHangup(gctx, a)
		return nil
	})
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr, "tls", certs != nil)
		var err error
		if certs != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// adminVerifier discovers the admin realm's signing keys. Without an issuer,
// or when discovery fails, the admin routes answer 503.
func adminVerifier(ctx context.Context, cfg config.Auth) middleware.TokenVerifier {
	if cfg.IssuerURL == "" {
		slog.Warn("admin API disabled: no auth issuer configured")
		return nil
	}
	v, err := middleware.DiscoverVerifier(ctx, cfg.IssuerURL, cfg.ClientID)
	if err != nil {
		slog.Warn("admin API disabled: oidc discovery failed", "issuer", cfg.IssuerURL, "error", err)
		return nil
	}
	return v
}

// reloadOnHangup re-reads secrets on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, a *app) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded")
		}
	}
}
