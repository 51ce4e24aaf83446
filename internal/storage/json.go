package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"clickgate/internal/models"
)

// JSONStorage implements the Storage interface on a single JSON file. The
// file is loaded once and rewritten atomically (temp file + rename) on every
// mutation, so a write is durable before it is acknowledged.
type JSONStorage struct {
	filePath string
	mu       sync.RWMutex
	data     *JSONData
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Buckets     map[string]*models.Bucket `json:"buckets"`
	Counters    map[string]int64          `json:"counters"`
	LastUpdated time.Time                 `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath: config.Path,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		return j.saveData(newJSONData())
	}
	return nil
}

func newJSONData() *JSONData {
	return &JSONData{
		Buckets:  make(map[string]*models.Bucket),
		Counters: make(map[string]int64),
	}
}

// loadData reads the whole file into memory.
func (j *JSONStorage) loadData() error {
	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	data := newJSONData()
	if err := json.Unmarshal(fileData, data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Buckets == nil {
		data.Buckets = make(map[string]*models.Bucket)
	}
	if data.Counters == nil {
		data.Counters = make(map[string]int64)
	}

	j.mu.Lock()
	j.data = data
	j.mu.Unlock()
	return nil
}

// saveData writes data to a temporary file and renames it over the target.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), filepath.Base(j.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to chmod file: %w", err)
	}
	if err := os.Rename(tmpName, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

// GetBucket returns the stored bucket for key.
func (j *JSONStorage) GetBucket(_ context.Context, key string) (*models.Bucket, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	b, exists := j.data.Buckets[key]
	if !exists {
		return nil, fmt.Errorf("bucket %s: %w", key, ErrNotFound)
	}
	return copyBucket(b), nil
}

// SaveBucket stores the bucket and persists the file. The in-memory copy is
// rolled back if the file cannot be written.
func (j *JSONStorage) SaveBucket(_ context.Context, bucket *models.Bucket) error {
	if bucket.Key == "" {
		return fmt.Errorf("bucket key cannot be empty")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	prev, existed := j.data.Buckets[bucket.Key]
	j.data.Buckets[bucket.Key] = copyBucket(bucket)

	if err := j.saveData(j.data); err != nil {
		if existed {
			j.data.Buckets[bucket.Key] = prev
		} else {
			delete(j.data.Buckets, bucket.Key)
		}
		return err
	}
	return nil
}

// PendingWakes lists scheduled wakes ordered by due time.
func (j *JSONStorage) PendingWakes(_ context.Context) ([]models.PendingWake, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	wakes := make([]models.PendingWake, 0)
	for key, b := range j.data.Buckets {
		if b.HasWake() {
			wakes = append(wakes, models.PendingWake{Key: key, At: b.WakeAt})
		}
	}
	sort.Slice(wakes, func(i, k int) bool {
		return wakes[i].At.Before(wakes[k].At)
	})
	return wakes, nil
}

// IncrementCounter adds one to the named counter and persists the file.
func (j *JSONStorage) IncrementCounter(_ context.Context, name string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data.Counters[name]++
	if err := j.saveData(j.data); err != nil {
		j.data.Counters[name]--
		return 0, err
	}
	return j.data.Counters[name], nil
}

// GetCounter returns the named counter.
func (j *JSONStorage) GetCounter(_ context.Context, name string) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.data.Counters[name], nil
}

// Ping checks that the backing file is still accessible.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

// Close is a no-op; every mutation is already on disk.
func (j *JSONStorage) Close() error {
	return nil
}
