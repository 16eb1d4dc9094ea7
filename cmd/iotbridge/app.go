package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/iotbridge/internal/adapter/hawkbit"
	"github.com/Strob0t/iotbridge/internal/adapter/influxdb"
	"github.com/Strob0t/iotbridge/internal/adapter/jsonstore"
	"github.com/Strob0t/iotbridge/internal/adapter/keycloak"
	cfnats "github.com/Strob0t/iotbridge/internal/adapter/nats"
	"github.com/Strob0t/iotbridge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/iotbridge/internal/adapter/otel"
	"github.com/Strob0t/iotbridge/internal/adapter/postgres"
	"github.com/Strob0t/iotbridge/internal/adapter/rabbitmq"
	"github.com/Strob0t/iotbridge/internal/adapter/ristretto"
	"github.com/Strob0t/iotbridge/internal/adapter/stepca"
	"github.com/Strob0t/iotbridge/internal/adapter/tiered"
	"github.com/Strob0t/iotbridge/internal/adapter/wireguard"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/port/broadcast"
	"github.com/Strob0t/iotbridge/internal/port/cache"
	"github.com/Strob0t/iotbridge/internal/port/joinstore"
	"github.com/Strob0t/iotbridge/internal/resilience"
	"github.com/Strob0t/iotbridge/internal/secrets"
	"github.com/Strob0t/iotbridge/internal/service"
)

// app is the wired object graph shared by the server and the admin commands.
type app struct {
	cfg   *config.Config
	vault *secrets.Vault

	store joinstore.Store
	vpn   *wireguard.Allocator
	rmq   *rabbitmq.Client

	join         *service.JoinService
	enrollment   *service.EnrollmentService
	webhooks     *service.WebhookService
	tenants      *service.TenantService
	provisioners *service.ProvisionerService // nil without an admin provisioner

	// replay is the Idempotency-Key response cache; nil without NATS.
	replay cache.Cache

	breakers map[string]*resilience.Breaker

	// invalidate drops credentials derived from vault secrets.
	invalidate []func()
	closers    []func()
}

// loadVault reads secrets from the environment, overridden by one file per
// key in IOTBRIDGE_SECRETS_DIR when set.
func loadVault() (*secrets.Vault, error) {
	loaders := []secrets.Loader{secrets.EnvLoader(secrets.AllKeys...)}
	if dir := os.Getenv("IOTBRIDGE_SECRETS_DIR"); dir != "" {
		loaders = append(loaders, secrets.FileLoader(dir, secrets.AllKeys...))
	}
	return secrets.NewVault(secrets.Chain(loaders...))
}

func secret(v *secrets.Vault, key string) func() string {
	return func() string { return v.Get(key) }
}

// newApp connects the record store, the cache and the optional message bus
// and wires every service. Call close when done.
func newApp(ctx context.Context, cfg *config.Config, metrics *cfotel.Metrics) (_ *app, err error) {
	vault, err := loadVault()
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	if missing := vault.Missing(secrets.AllKeys...); len(missing) > 0 {
		slog.Warn("secrets not set", "keys", missing)
	}
	for _, k := range secrets.AllKeys {
		slog.Debug("secret", "key", k, "value", vault.Redacted(k))
	}
	a := &app{cfg: cfg, vault: vault}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.breakers = map[string]*resilience.Breaker{}
	newBreaker := func(upstream string) *resilience.Breaker {
		b := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		a.breakers[upstream] = b
		return b
	}

	// --- Record store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pool, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.store = postgres.NewJoinStore(pool)
	default:
		a.store = jsonstore.New(cfg.Store.JoinRequestsPath)
		slog.Info("file record store", "path", cfg.Store.JoinRequestsPath)
	}

	// --- Cache and message bus ---
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	a.closers = append(a.closers, l1.Close)

	var events broadcast.Publisher = broadcast.Nop{}
	if cfg.NATS.URL != "" {
		queue, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		})
		events = cfnats.NewEventPublisher(queue)

		kv, err := queue.KeyValue(ctx, cfg.NATS.IdempotencyBucket, cfg.NATS.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("nats kv: %w", err)
		}
		a.replay = tiered.New(l1, natskv.New(kv), cfg.NATS.IdempotencyTTL)
	}

	// --- step-ca ---
	ca := stepca.New(cfg.StepCA, newBreaker("step-ca"))
	deviceIssuer := ca.NewIssuer(cfg.StepCA.Provisioner, secret(vault, secrets.StepCAProvisionerPassword))
	subCAIssuer := ca.NewIssuer(cfg.StepCA.SubCAProvisioner, secret(vault, secrets.StepCASubCAPassword))
	roots := ca.NewRootFetcher(cfg.StepCA.Fingerprint, l1, cfg.Cache.RootCATTL)
	a.invalidate = append(a.invalidate, deviceIssuer.Invalidate, subCAIssuer.Invalidate)
	if cfg.StepCA.AdminProvisioner != "" {
		admin := ca.NewAdmin(cfg.StepCA.AdminProvisioner, secret(vault, secrets.StepCAAdminPassword))
		a.invalidate = append(a.invalidate, admin.Invalidate)
		a.provisioners = service.NewProvisionerService(admin)
	}

	// --- Integrations ---
	kc := keycloak.New(cfg.Keycloak, secret(vault, secrets.KeycloakAdminPassword), newBreaker("keycloak"))
	a.invalidate = append(a.invalidate, kc.ResetSession)
	a.rmq = rabbitmq.New(cfg.RabbitMQ, secret(vault, secrets.RabbitMQAdminPassword), newBreaker("rabbitmq"))
	ota := hawkbit.New(cfg.HawkBit, secret(vault, secrets.HawkBitPassword), newBreaker("hawkbit"))
	influx := influxdb.New(cfg.InfluxDB, secret(vault, secrets.InfluxToken), newBreaker("influxdb"))

	a.vpn, err = wireguard.New(cfg.WireGuard)
	if err != nil {
		return nil, fmt.Errorf("wireguard: %w", err)
	}

	// --- Services ---
	a.join = service.NewJoinService(service.JoinDeps{
		Store:        a.store,
		SubCA:        subCAIssuer,
		Bridge:       deviceIssuer,
		Roots:        roots,
		Broker:       a.rmq,
		Federation:   kc,
		VPN:          a.vpn,
		Events:       events,
		Metrics:      metrics,
		DiscoveryURL: discoveryURL(cfg),
	})
	a.enrollment = service.NewEnrollmentService(deviceIssuer, roots, ota, a.vpn, events, metrics)
	a.webhooks = service.NewWebhookService(ota, a.vpn, influx, events, metrics)
	a.tenants = service.NewTenantService(kc, a.rmq, events)

	return a, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("postgres record store", "max_conns", cfg.Postgres.MaxConns)
	return pool, nil
}

// discoveryURL is the OIDC discovery document of the federation realm as
// seen by tenant stacks.
func discoveryURL(cfg *config.Config) string {
	return strings.TrimRight(cfg.Server.ExternalURL, "/") +
		"/auth/realms/" + cfg.Keycloak.FederationRealm + "/.well-known/openid-configuration"
}

// reload re-reads the vault and drops every credential derived from it.
func (a *app) reload() error {
	if err := a.vault.Reload(); err != nil {
		return err
	}
	for _, fn := range a.invalidate {
		fn()
	}
	return nil
}

// ready reports whether the record store can be read.
func (a *app) ready(ctx context.Context) error {
	_, err := a.store.Load(ctx)
	return err
}

// upstreams reports the circuit breaker state of every upstream service.
func (a *app) upstreams() map[string]string {
	out := make(map[string]string, len(a.breakers))
	for name, b := range a.breakers {
		out[name] = b.State()
	}
	return out
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
