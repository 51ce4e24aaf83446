package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clickgate/internal/models"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the Storage interface on an embedded SQLite
// database. A single connection serializes writers, which keeps the database
// free of SQLITE_BUSY errors under concurrent requests.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance and applies the
// schema migrations.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}

	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{
		db: db,
	}, nil
}

// GetBucket returns the stored bucket for key.
func (ss *SQLiteStorage) GetBucket(ctx context.Context, key string) (*models.Bucket, error) {
	var (
		tokens     int
		lastRefill int64
		wakeAt     sql.NullInt64
	)
	err := ss.db.QueryRowContext(ctx,
		`SELECT tokens, last_refill_ms, wake_at_ms FROM buckets WHERE key = ?`, key,
	).Scan(&tokens, &lastRefill, &wakeAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

// SaveBucket upserts the bucket row.
func (ss *SQLiteStorage) SaveBucket(ctx context.Context, bucket *models.Bucket) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO buckets (key, tokens, last_refill_ms, wake_at_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   tokens = excluded.tokens,
		   last_refill_ms = excluded.last_refill_ms,
		   wake_at_ms = excluded.wake_at_ms`,
		bucket.Key, bucket.Tokens, toMillis(bucket.LastRefill), nullMillis(bucket.WakeAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save bucket %s: %w", bucket.Key, err)
	}
	return nil
}

// PendingWakes lists scheduled wakes ordered by due time.
func (ss *SQLiteStorage) PendingWakes(ctx context.Context) ([]models.PendingWake, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT key, wake_at_ms FROM buckets WHERE wake_at_ms IS NOT NULL ORDER BY wake_at_ms`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending wakes: %w", err)
	}
	defer rows.Close()

	wakes := make([]models.PendingWake, 0)
	for rows.Next() {
		var (
			key string
			at  int64
		)
		if err := rows.Scan(&key, &at); err != nil {
			return nil, fmt.Errorf("failed to scan pending wake: %w", err)
		}
		wakes = append(wakes, models.PendingWake{Key: key, At: fromMillis(at)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pending wakes: %w", err)
	}
	return wakes, nil
}

// IncrementCounter atomically adds one to the named counter.
func (ss *SQLiteStorage) IncrementCounter(ctx context.Context, name string) (int64, error) {
	var value int64
	err := ss.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		 RETURNING value`, name,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return value, nil
}

// GetCounter returns the named counter.
func (ss *SQLiteStorage) GetCounter(ctx context.Context, name string) (int64, error) {
	var value int64
	err := ss.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter %s: %w", name, err)
	}
	return value, nil
}

// Ping verifies the database is reachable.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
