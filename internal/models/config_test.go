package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.True(t, config.Server.CORS.Enabled)
	assert.Equal(t, []string{"*"}, config.Server.CORS.AllowedOrigins)

	assert.Equal(t, StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, "clickgate", config.Storage.Redis.KeyPrefix)

	assert.Equal(t, 10, config.RateLimit.Capacity)
	assert.Equal(t, 1, config.RateLimit.RefillRate)
	assert.Equal(t, time.Second, config.RateLimit.RefillInterval)
	assert.True(t, config.RateLimit.PersistState)

	assert.Equal(t, "https://challenges.cloudflare.com/turnstile/v0/siteverify", config.Turnstile.VerifyURL)
	assert.Equal(t, 10*time.Second, config.Turnstile.Timeout)

	assert.Equal(t, "clicks", config.Gate.CounterName)
	assert.False(t, config.Gate.TrustRemoteAddr)

	assert.Equal(t, "clickgate", config.Observability.ServiceName)
	assert.False(t, config.Observability.Tracing.Enabled)

	require.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "port must be between 1 and 65535"},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "port must be between 1 and 65535"},
		{name: "empty host", mutate: func(c *Config) { c.Server.Host = "" }, wantErr: "host cannot be empty"},
		{name: "negative read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = -time.Second }, wantErr: "read timeout cannot be negative"},
		{name: "tls without cert", mutate: func(c *Config) { c.Server.TLSEnabled = true }, wantErr: "TLS cert file is required"},
		{
			name: "tls without key",
			mutate: func(c *Config) {
				c.Server.TLSEnabled = true
				c.Server.TLSCertFile = "cert.pem"
			},
			wantErr: "TLS key file is required",
		},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "etcd" }, wantErr: "invalid storage type: etcd"},
		{name: "json without path", mutate: func(c *Config) { c.Storage.Type, c.Storage.Path = StorageTypeJSON, "" }, wantErr: "path is required for JSON storage"},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Storage.Type = StorageTypeSQLite }, wantErr: "database DSN is required"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Type = StorageTypePostgres }, wantErr: "database DSN is required"},
		{
			name:   "postgres with dsn",
			mutate: func(c *Config) { c.Storage.Type, c.Storage.Database.DSN = StorageTypePostgres, "postgres://localhost/clickgate" },
		},
		{name: "redis without addr", mutate: func(c *Config) { c.Storage.Type = StorageTypeRedis }, wantErr: "redis address is required"},
		{name: "zero capacity", mutate: func(c *Config) { c.RateLimit.Capacity = 0 }, wantErr: "capacity must be positive"},
		{name: "zero refill rate", mutate: func(c *Config) { c.RateLimit.RefillRate = 0 }, wantErr: "refill rate must be positive"},
		{name: "zero refill interval", mutate: func(c *Config) { c.RateLimit.RefillInterval = 0 }, wantErr: "refill interval must be positive"},
		{name: "negative idle timeout", mutate: func(c *Config) { c.RateLimit.IdleTimeout = -time.Minute }, wantErr: "idle timeout cannot be negative"},
		{name: "idle timeout without cleanup", mutate: func(c *Config) { c.RateLimit.CleanupInterval = 0 }, wantErr: "cleanup interval must be positive"},
		{
			name: "no eviction",
			mutate: func(c *Config) {
				c.RateLimit.IdleTimeout = 0
				c.RateLimit.CleanupInterval = 0
			},
		},
		{name: "empty verify url", mutate: func(c *Config) { c.Turnstile.VerifyURL = "" }, wantErr: "verify URL cannot be empty"},
		{name: "zero turnstile timeout", mutate: func(c *Config) { c.Turnstile.Timeout = 0 }, wantErr: "timeout must be positive"},
		{name: "empty counter name", mutate: func(c *Config) { c.Gate.CounterName = "" }, wantErr: "counter name cannot be empty"},
		{name: "no client address source", mutate: func(c *Config) { c.Gate.ClientIPHeaders = nil }, wantErr: "at least one client IP header"},
		{
			name: "remote addr only",
			mutate: func(c *Config) {
				c.Gate.ClientIPHeaders = nil
				c.Gate.TrustRemoteAddr = true
			},
		},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "invalid log level"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "file log without path", mutate: func(c *Config) { c.Logging.Output = "file" }, wantErr: "file path is required"},
		{name: "metrics without path", mutate: func(c *Config) { c.Metrics.Path = "" }, wantErr: "metrics path cannot be empty"},
		{
			name: "disabled metrics ignore port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Port = 0
			},
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Observability.Tracing.Enabled = true
				c.Observability.Tracing.Exporter = "otlp"
			},
			wantErr: "OTLP endpoint is required",
		},
		{
			name: "unknown exporter",
			mutate: func(c *Config) {
				c.Observability.Tracing.Enabled = true
				c.Observability.Tracing.Exporter = "jaeger"
			},
			wantErr: "invalid trace exporter: jaeger",
		},
		{
			name: "sample rate above one",
			mutate: func(c *Config) {
				c.Observability.Tracing.Enabled = true
				c.Observability.Tracing.SampleRate = 1.5
			},
			wantErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
