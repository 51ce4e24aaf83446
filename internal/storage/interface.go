package storage

import (
	"context"
	"time"

	"clickgate/internal/models"
)

// Storage is the durable key-scoped store behind the rate limiter and the
// click counter. Implementations must be safe for concurrent use and must not
// acknowledge a write before it is durable in the backend.
type Storage interface {
	// GetBucket returns the persisted bucket for key, or ErrNotFound.
	GetBucket(ctx context.Context, key string) (*models.Bucket, error)

	// SaveBucket stores the bucket and its pending wake as one write.
	SaveBucket(ctx context.Context, bucket *models.Bucket) error

	// PendingWakes lists every key that has a scheduled wake.
	PendingWakes(ctx context.Context) ([]models.PendingWake, error)

	// IncrementCounter atomically adds one to the named counter and returns
	// the new value.
	IncrementCounter(ctx context.Context, name string) (int64, error)

	// GetCounter returns the named counter, zero if it was never incremented.
	GetCounter(ctx context.Context, name string) (int64, error)

	// Ping verifies the storage backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, json, sqlite, postgres, redis)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Connection pool settings for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`

	// Redis holds settings for the redis backend
	Redis models.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}
