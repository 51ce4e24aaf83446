// Package models - Service configuration and operational settings.
// This file defines the configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, rate limit, etc.)
// - Environment-friendly defaults that work out of the box
// - Validation to catch misconfigurations early
// - Every field can be overridden by a CLICKGATE_* environment variable
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
	StorageTypeRedis    = "redis"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Durable key-scoped store for buckets and counters
// - RateLimit: Token bucket parameters and instance lifecycle
// - Turnstile: Human verification provider
// - Gate: Click gate behavior (counter, client address extraction)
// - Logging, Metrics, Observability: operational concerns
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Turnstile     TurnstileConfig     `yaml:"turnstile" json:"turnstile"`
	Gate          GateConfig          `yaml:"gate" json:"gate"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port" env:"CLICKGATE_PORT"`
	Host         string        `yaml:"host" json:"host" env:"CLICKGATE_HOST"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"CLICKGATE_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"CLICKGATE_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"CLICKGATE_IDLE_TIMEOUT"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled" env:"CLICKGATE_TLS_ENABLED"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file" env:"CLICKGATE_TLS_CERT_FILE"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file" env:"CLICKGATE_TLS_KEY_FILE"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" env:"CLICKGATE_CORS_ENABLED"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" env:"CLICKGATE_CORS_ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type" env:"CLICKGATE_STORAGE_TYPE"`
	Path     string         `yaml:"path" json:"path" env:"CLICKGATE_STORAGE_PATH"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn" env:"CLICKGATE_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"CLICKGATE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"CLICKGATE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CLICKGATE_DATABASE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CLICKGATE_DATABASE_CONN_MAX_IDLE_TIME"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" env:"CLICKGATE_REDIS_ADDR"`
	Password  string `yaml:"password" json:"password" env:"CLICKGATE_REDIS_PASSWORD"`
	DB        int    `yaml:"db" json:"db" env:"CLICKGATE_REDIS_DB"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size" env:"CLICKGATE_REDIS_POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"CLICKGATE_REDIS_KEY_PREFIX"`
}

// RateLimitConfig holds the token bucket parameters. The defaults give every
// client address a burst of 10 actions refilled at one token per second.
type RateLimitConfig struct {
	Capacity       int           `yaml:"capacity" json:"capacity" env:"CLICKGATE_RATE_LIMIT_CAPACITY"`
	RefillRate     int           `yaml:"refill_rate" json:"refill_rate" env:"CLICKGATE_RATE_LIMIT_REFILL_RATE"`
	RefillInterval time.Duration `yaml:"refill_interval" json:"refill_interval" env:"CLICKGATE_RATE_LIMIT_REFILL_INTERVAL"`

	// PersistState restores tokens and last refill time when a bucket is
	// loaded cold. When false only the pending wake survives a restart and
	// the bucket starts full again.
	PersistState bool `yaml:"persist_state" json:"persist_state" env:"CLICKGATE_RATE_LIMIT_PERSIST_STATE"`

	// IdleTimeout evicts in-memory instances that have not been used for this
	// long. Zero keeps instances for the life of the process.
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"CLICKGATE_RATE_LIMIT_IDLE_TIMEOUT"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"CLICKGATE_RATE_LIMIT_CLEANUP_INTERVAL"`
}

type TurnstileConfig struct {
	SecretKey        string        `yaml:"secret_key" json:"-" env:"CLICKGATE_TURNSTILE_SECRET"`
	VerifyURL        string        `yaml:"verify_url" json:"verify_url" env:"CLICKGATE_TURNSTILE_VERIFY_URL"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout" env:"CLICKGATE_TURNSTILE_TIMEOUT"`
	ExpectedAction   string        `yaml:"expected_action" json:"expected_action" env:"CLICKGATE_TURNSTILE_EXPECTED_ACTION"`
	ExpectedHostname string        `yaml:"expected_hostname" json:"expected_hostname" env:"CLICKGATE_TURNSTILE_EXPECTED_HOSTNAME"`
}

type GateConfig struct {
	CounterName     string   `yaml:"counter_name" json:"counter_name" env:"CLICKGATE_COUNTER_NAME"`
	ClientIPHeaders []string `yaml:"client_ip_headers" json:"client_ip_headers" env:"CLICKGATE_CLIENT_IP_HEADERS" envSeparator:","`
	TrustRemoteAddr bool     `yaml:"trust_remote_addr" json:"trust_remote_addr" env:"CLICKGATE_TRUST_REMOTE_ADDR"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level" env:"CLICKGATE_LOG_LEVEL"`
	Format   string `yaml:"format" json:"format" env:"CLICKGATE_LOG_FORMAT"`
	Output   string `yaml:"output" json:"output" env:"CLICKGATE_LOG_OUTPUT"`
	FilePath string `yaml:"file_path" json:"file_path" env:"CLICKGATE_LOG_FILE_PATH"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"CLICKGATE_METRICS_ENABLED"`
	Path    string `yaml:"path" json:"path" env:"CLICKGATE_METRICS_PATH"`
	Port    int    `yaml:"port" json:"port" env:"CLICKGATE_METRICS_PORT"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name" env:"CLICKGATE_SERVICE_NAME"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"CLICKGATE_TRACING_ENABLED"`
	Exporter     string  `yaml:"exporter" json:"exporter" env:"CLICKGATE_TRACING_EXPORTER"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"CLICKGATE_TRACING_OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"CLICKGATE_TRACING_SAMPLE_RATE"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Memory storage: zero setup for development; use sqlite/postgres/redis to survive restarts
// - 10 token burst, 1 token per second: the click gate's abuse budget per address
// - Cloudflare client address headers: the service is deployed behind Cloudflare
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/clickgate.json",
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				PoolSize:  10,
				KeyPrefix: "clickgate",
			},
		},
		RateLimit: RateLimitConfig{
			Capacity:        10,
			RefillRate:      1,
			RefillInterval:  time.Second,
			PersistState:    true,
			IdleTimeout:     10 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Turnstile: TurnstileConfig{
			VerifyURL: "https://challenges.cloudflare.com/turnstile/v0/siteverify",
			Timeout:   10 * time.Second,
		},
		Gate: GateConfig{
			CounterName:     "clicks",
			ClientIPHeaders: []string{"CF-Connecting-IPv6", "CF-Connecting-IP", "X-Real-IP"},
			TrustRemoteAddr: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "clickgate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// Validate checks every section and reports all problems at once, each
// prefixed with its section name.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		err  error
	}{
		{"server", c.Server.Validate()},
		{"storage", c.Storage.Validate()},
		{"rate limit", c.RateLimit.Validate()},
		{"turnstile", c.Turnstile.Validate()},
		{"gate", c.Gate.Validate()},
		{"logging", c.Logging.Validate()},
		{"metrics", c.Metrics.Validate()},
		{"observability", c.Observability.Validate()},
	}

	var errs []error
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Errorf("invalid %s config: %w", s.name, s.err))
		}
	}
	return errors.Join(errs...)
}

// check collects the messages of the conditions that hold.
type check []error

func (c *check) fail(bad bool, format string, args ...any) {
	if bad {
		*c = append(*c, fmt.Errorf(format, args...))
	}
}

func (c check) err() error {
	return errors.Join(c...)
}

func (sc *ServerConfig) Validate() error {
	var c check
	c.fail(sc.Port <= 0 || sc.Port > 65535, "port must be between 1 and 65535")
	c.fail(sc.Host == "", "host cannot be empty")
	c.fail(sc.ReadTimeout < 0, "read timeout cannot be negative")
	c.fail(sc.WriteTimeout < 0, "write timeout cannot be negative")
	c.fail(sc.IdleTimeout < 0, "idle timeout cannot be negative")
	c.fail(sc.TLSEnabled && sc.TLSCertFile == "", "TLS cert file is required when TLS is enabled")
	c.fail(sc.TLSEnabled && sc.TLSKeyFile == "", "TLS key file is required when TLS is enabled")
	return c.err()
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", stc.Type)
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required when storage type is redis")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	var c check
	c.fail(rc.Capacity <= 0, "capacity must be positive")
	c.fail(rc.RefillRate <= 0, "refill rate must be positive")
	c.fail(rc.RefillInterval <= 0, "refill interval must be positive")
	c.fail(rc.IdleTimeout < 0, "idle timeout cannot be negative")
	c.fail(rc.IdleTimeout > 0 && rc.CleanupInterval <= 0, "cleanup interval must be positive when idle timeout is set")
	return c.err()
}

func (tc *TurnstileConfig) Validate() error {
	var c check
	c.fail(tc.VerifyURL == "", "verify URL cannot be empty")
	c.fail(tc.Timeout <= 0, "timeout must be positive")
	return c.err()
}

func (gc *GateConfig) Validate() error {
	var c check
	c.fail(gc.CounterName == "", "counter name cannot be empty")
	c.fail(len(gc.ClientIPHeaders) == 0 && !gc.TrustRemoteAddr,
		"at least one client IP header is required unless trust_remote_addr is set")
	return c.err()
}

func (lc *LoggingConfig) Validate() error {
	var c check
	c.fail(!slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level), "invalid log level: %s", lc.Level)
	c.fail(!slices.Contains([]string{"json", "text"}, lc.Format), "invalid log format: %s", lc.Format)
	c.fail(!slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output), "invalid log output: %s", lc.Output)
	c.fail(lc.Output == "file" && lc.FilePath == "", "file path is required when output is file")
	return c.err()
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	var c check
	c.fail(mc.Path == "", "metrics path cannot be empty")
	c.fail(mc.Port <= 0 || mc.Port > 65535, "metrics port must be between 1 and 65535")
	return c.err()
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}
	var c check
	c.fail(oc.ServiceName == "", "service name is required when tracing is enabled")
	c.fail(oc.Tracing.Exporter != "stdout" && oc.Tracing.Exporter != "otlp", "invalid trace exporter: %s", oc.Tracing.Exporter)
	c.fail(oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "", "OTLP endpoint is required for the otlp exporter")
	c.fail(oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1, "sample rate must be between 0 and 1")
	return c.err()
}
