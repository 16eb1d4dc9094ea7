package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "iotbridge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("IOTBRIDGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config. Integration
// settings keep the variable names of the docker-compose deployment.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "IOTBRIDGE_PORT")
	setString(&cfg.Server.ExternalURL, "EXTERNAL_URL")
	setString(&cfg.Server.CORSOrigin, "IOTBRIDGE_CORS_ORIGIN")
	setList(&cfg.Server.TLSHosts, "IOTBRIDGE_TLS_HOSTS")
	setString(&cfg.Server.TLSCacheDir, "IOTBRIDGE_TLS_CACHE_DIR")
	setDuration(&cfg.Server.ShutdownTimeout, "IOTBRIDGE_SHUTDOWN_TIMEOUT")

	setString(&cfg.Logging.Level, "IOTBRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "IOTBRIDGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "IOTBRIDGE_LOG_ASYNC")

	// Store
	setString(&cfg.Store.Backend, "IOTBRIDGE_STORE_BACKEND")
	setString(&cfg.Store.JoinRequestsPath, "JOIN_REQUESTS_DB_PATH")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "IOTBRIDGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "IOTBRIDGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "IOTBRIDGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "IOTBRIDGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "IOTBRIDGE_PG_HEALTH_CHECK")

	// NATS
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "IOTBRIDGE_NATS_STREAM")
	setString(&cfg.NATS.IdempotencyBucket, "IOTBRIDGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.NATS.IdempotencyTTL, "IOTBRIDGE_IDEMPOTENCY_TTL")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "IOTBRIDGE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.RootCATTL, "IOTBRIDGE_CACHE_ROOT_CA_TTL")

	// step-ca
	setString(&cfg.StepCA.URL, "STEP_CA_URL")
	setString(&cfg.StepCA.Fingerprint, "STEP_CA_FINGERPRINT")
	setString(&cfg.StepCA.Provisioner, "STEP_CA_PROVISIONER_NAME")
	setString(&cfg.StepCA.SubCAProvisioner, "STEP_CA_SUB_CA_PROVISIONER")
	setString(&cfg.StepCA.AdminProvisioner, "STEP_CA_ADMIN_PROVISIONER")
	setInverseBool(&cfg.StepCA.InsecureSkipVerify, "STEP_CA_VERIFY_TLS")
	setDuration(&cfg.StepCA.ReadTimeout, "IOTBRIDGE_STEP_CA_READ_TIMEOUT")
	setDuration(&cfg.StepCA.SignTimeout, "IOTBRIDGE_STEP_CA_SIGN_TIMEOUT")

	// Integrations
	setString(&cfg.RabbitMQ.MgmtURL, "RABBITMQ_MGMT_URL")
	setString(&cfg.RabbitMQ.AdminUser, "RABBITMQ_ADMIN_USER")
	setString(&cfg.Keycloak.URL, "KEYCLOAK_URL")
	setString(&cfg.Keycloak.AdminUser, "KEYCLOAK_ADMIN_USER")
	setString(&cfg.Keycloak.FederationRealm, "KEYCLOAK_FEDERATION_REALM")
	setString(&cfg.HawkBit.URL, "HAWKBIT_URL")
	setString(&cfg.HawkBit.User, "HAWKBIT_USER")
	setString(&cfg.InfluxDB.URL, "INFLUX_URL")
	setString(&cfg.InfluxDB.Org, "INFLUX_ORG")
	setString(&cfg.InfluxDB.Bucket, "INFLUX_BUCKET")

	// WireGuard
	setString(&cfg.WireGuard.ConfigDir, "WIREGUARD_CONFIG_DIR")
	setString(&cfg.WireGuard.Subnet, "WG_SUBNET")
	setString(&cfg.WireGuard.ServerIP, "WG_SERVER_IP")
	setString(&cfg.WireGuard.ServerURL, "WG_SERVER_URL")
	setInt(&cfg.WireGuard.Port, "WG_PORT")

	// Admin auth
	setString(&cfg.Auth.IssuerURL, "IOTBRIDGE_AUTH_ISSUER_URL")
	setString(&cfg.Auth.ClientID, "IOTBRIDGE_AUTH_CLIENT_ID")
	setString(&cfg.Auth.AdminRealm, "IOTBRIDGE_AUTH_ADMIN_REALM")
	setList(&cfg.Auth.AdminRoles, "IOTBRIDGE_AUTH_ADMIN_ROLES")

	setInt(&cfg.Breaker.MaxFailures, "IOTBRIDGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "IOTBRIDGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "IOTBRIDGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "IOTBRIDGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "IOTBRIDGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "IOTBRIDGE_RATE_MAX_IDLE_TIME")

	setBool(&cfg.OTEL.Enabled, "IOTBRIDGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "IOTBRIDGE_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Backend {
	case "file":
		if cfg.Store.JoinRequestsPath == "" {
			return errors.New("store.join_requests_path is required for the file backend")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("store.backend %q: must be file or postgres", cfg.Store.Backend)
	}
	if cfg.StepCA.URL == "" {
		return errors.New("step_ca.url is required")
	}
	prefix, err := netip.ParsePrefix(cfg.WireGuard.Subnet)
	if err != nil {
		return fmt.Errorf("wireguard.subnet: %w", err)
	}
	if !prefix.Addr().Is4() {
		return errors.New("wireguard.subnet must be an IPv4 network")
	}
	if _, err := netip.ParseAddr(cfg.WireGuard.ServerIP); err != nil {
		return fmt.Errorf("wireguard.server_ip: %w", err)
	}
	if cfg.WireGuard.Port < 1 || cfg.WireGuard.Port > 65535 {
		return errors.New("wireguard.port must be in 1..65535")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated value, dropping blanks.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setInverseBool maps a "verify"-style flag onto a "skip"-style field.
func setInverseBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = !b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
