package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clickgate/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStorage implements the Storage interface using PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
	db   *sql.DB // database/sql view of pool, used for migrations
}

// NewPostgresStorage creates a new PostgreSQL storage instance and applies
// the schema migrations.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx := context.Background()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := migrate(ctx, db, goose.DialectPostgres, "migrations/postgres"); err != nil {
		db.Close()
		pool.Close()
		return nil, err
	}

	return &PostgresStorage{
		pool: pool,
		db:   db,
	}, nil
}

// GetBucket returns the stored bucket for key.
func (ps *PostgresStorage) GetBucket(ctx context.Context, key string) (*models.Bucket, error) {
	var (
		tokens     int
		lastRefill int64
		wakeAt     sql.NullInt64
	)
	err := ps.pool.QueryRow(ctx,
		`SELECT tokens, last_refill_ms, wake_at_ms FROM buckets WHERE key = $1`, key,
	).Scan(&tokens, &lastRefill, &wakeAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bucket %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &models.Bucket{
		Key:        key,
		Tokens:     tokens,
		LastRefill: fromMillis(lastRefill),
		WakeAt:     fromNullMillis(wakeAt),
	}, nil
}

// SaveBucket upserts the bucket row (upsert pattern).
func (ps *PostgresStorage) SaveBucket(ctx context.Context, bucket *models.Bucket) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO buckets (key, tokens, last_refill_ms, wake_at_ms) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		   tokens = EXCLUDED.tokens,
		   last_refill_ms = EXCLUDED.last_refill_ms,
		   wake_at_ms = EXCLUDED.wake_at_ms`,
		bucket.Key, bucket.Tokens, toMillis(bucket.LastRefill), nullMillis(bucket.WakeAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save bucket %s: %w", bucket.Key, err)
	}
	return nil
}

// PendingWakes lists scheduled wakes ordered by due time.
func (ps *PostgresStorage) PendingWakes(ctx context.Context) ([]models.PendingWake, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT key, wake_at_ms FROM buckets WHERE wake_at_ms IS NOT NULL ORDER BY wake_at_ms`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending wakes: %w", err)
	}

	wakes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PendingWake, error) {
		var (
			key string
			at  int64
		)
		if err := row.Scan(&key, &at); err != nil {
			return models.PendingWake{}, err
		}
		return models.PendingWake{Key: key, At: fromMillis(at)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending wakes: %w", err)
	}
	return wakes, nil
}

// IncrementCounter atomically adds one to the named counter.
func (ps *PostgresStorage) IncrementCounter(ctx context.Context, name string) (int64, error) {
	var value int64
	err := ps.pool.QueryRow(ctx,
		`INSERT INTO counters (name, value) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		 RETURNING value`, name,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return value, nil
}

// GetCounter returns the named counter.
func (ps *PostgresStorage) GetCounter(ctx context.Context, name string) (int64, error) {
	var value int64
	err := ps.pool.QueryRow(ctx, `SELECT value FROM counters WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter %s: %w", name, err)
	}
	return value, nil
}

// Ping verifies the database is reachable.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	err := ps.db.Close()
	ps.pool.Close()
	return err
}
