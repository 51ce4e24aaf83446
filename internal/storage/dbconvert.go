package storage

import (
	"database/sql"
	"time"

	"clickgate/internal/models"
)

// toMillis converts a timestamp to milliseconds since the epoch. The zero
// time maps to 0 so it round-trips through fromMillis.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis converts milliseconds since the epoch back to a UTC timestamp.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// nullMillis converts an optional timestamp to a nullable column value.
func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// fromNullMillis converts a nullable column value back to a timestamp.
func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return fromMillis(v.Int64)
}

// truncateMillis drops sub-millisecond precision so every backend returns
// identical timestamps.
func truncateMillis(t time.Time) time.Time {
	return fromMillis(toMillis(t))
}

// copyBucket returns a normalized copy of b.
func copyBucket(b *models.Bucket) *models.Bucket {
	return &models.Bucket{
		Key:        b.Key,
		Tokens:     b.Tokens,
		LastRefill: truncateMillis(b.LastRefill),
		WakeAt:     truncateMillis(b.WakeAt),
	}
}
