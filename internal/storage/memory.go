package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"clickgate/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-process
// deployments where losing rate limit state on restart is acceptable.
type MemoryStorage struct {
	mu       sync.RWMutex
	buckets  map[string]*models.Bucket
	counters map[string]int64
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		buckets:  make(map[string]*models.Bucket),
		counters: make(map[string]int64),
	}, nil
}

// GetBucket returns a copy of the stored bucket for key.
func (m *MemoryStorage) GetBucket(_ context.Context, key string) (*models.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, exists := m.buckets[key]
	if !exists {
		return nil, fmt.Errorf("bucket %s: %w", key, ErrNotFound)
	}

	return copyBucket(b), nil
}

// SaveBucket stores a copy of the bucket to prevent external modification.
func (m *MemoryStorage) SaveBucket(_ context.Context, bucket *models.Bucket) error {
	if bucket.Key == "" {
		return fmt.Errorf("bucket key cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.buckets[bucket.Key] = copyBucket(bucket)
	return nil
}

// PendingWakes lists scheduled wakes ordered by due time.
func (m *MemoryStorage) PendingWakes(_ context.Context) ([]models.PendingWake, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wakes := make([]models.PendingWake, 0)
	for key, b := range m.buckets {
		if b.HasWake() {
			wakes = append(wakes, models.PendingWake{Key: key, At: b.WakeAt})
		}
	}

	sort.Slice(wakes, func(i, j int) bool {
		return wakes[i].At.Before(wakes[j].At)
	})

	return wakes, nil
}

// IncrementCounter adds one to the named counter.
func (m *MemoryStorage) IncrementCounter(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[name]++
	return m.counters[name], nil
}

// GetCounter returns the named counter.
func (m *MemoryStorage) GetCounter(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.counters[name], nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close closes the storage connection and cleans up resources
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear all data
	m.buckets = make(map[string]*models.Bucket)
	m.counters = make(map[string]int64)

	return nil
}
