package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"clickgate/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "clickgate"

// RedisStorage implements the Storage interface on Redis.
//
// Layout:
//   - {prefix}:bucket:{key}   hash with tokens, last_refill and wake_at (unix ms)
//   - {prefix}:wakes          sorted set of keys scored by wake_at
//   - {prefix}:counter:{name} integer counter
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.Redis.Addr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}

	opts := &redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}
	if config.Redis.PoolSize > 0 {
		opts.PoolSize = config.Redis.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := config.Redis.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStorage{client: client, prefix: prefix}, nil
}

func (rs *RedisStorage) bucketKey(key string) string {
	return rs.prefix + ":bucket:" + key
}

func (rs *RedisStorage) wakesKey() string {
	return rs.prefix + ":wakes"
}

func (rs *RedisStorage) counterKey(name string) string {
	return rs.prefix + ":counter:" + name
}

// GetBucket returns the stored bucket for key.
func (rs *RedisStorage) GetBucket(ctx context.Context, key string) (*models.Bucket, error) {
	fields, err := rs.client.HGetAll(ctx, rs.bucketKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("bucket %s: %w", key, ErrNotFound)
	}

	tokens, err := strconv.Atoi(fields["tokens"])
	if err != nil {
		return nil, fmt.Errorf("corrupt bucket %s: tokens: %w", key, err)
	}
	lastRefill, err := strconv.ParseInt(fields["last_refill"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt bucket %s: last_refill: %w", key, err)
	}
	var wakeAt int64
	if raw := fields["wake_at"]; raw != "" {
		wakeAt, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt bucket %s: wake_at: %w", key, err)
		}
	}

	return &models.Bucket{
		Key:        key,
		Tokens:     tokens,
		LastRefill: fromMillis(lastRefill),
		WakeAt:     fromMillis(wakeAt),
	}, nil
}

// SaveBucket writes the bucket hash and its wake index entry in one
// MULTI/EXEC transaction.
func (rs *RedisStorage) SaveBucket(ctx context.Context, bucket *models.Bucket) error {
	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rs.bucketKey(bucket.Key),
			"tokens", bucket.Tokens,
			"last_refill", toMillis(bucket.LastRefill),
			"wake_at", toMillis(bucket.WakeAt),
		)
		if bucket.HasWake() {
			pipe.ZAdd(ctx, rs.wakesKey(), redis.Z{
				Score:  float64(toMillis(bucket.WakeAt)),
				Member: bucket.Key,
			})
		} else {
			pipe.ZRem(ctx, rs.wakesKey(), bucket.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save bucket %s: %w", bucket.Key, err)
	}
	return nil
}

// PendingWakes lists scheduled wakes ordered by due time.
func (rs *RedisStorage) PendingWakes(ctx context.Context) ([]models.PendingWake, error) {
	entries, err := rs.client.ZRangeWithScores(ctx, rs.wakesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending wakes: %w", err)
	}

	wakes := make([]models.PendingWake, 0, len(entries))
	for _, entry := range entries {
		key, ok := entry.Member.(string)
		if !ok {
			continue
		}
		wakes = append(wakes, models.PendingWake{
			Key: key,
			At:  fromMillis(int64(entry.Score)),
		})
	}
	return wakes, nil
}

// IncrementCounter atomically adds one to the named counter.
func (rs *RedisStorage) IncrementCounter(ctx context.Context, name string) (int64, error) {
	value, err := rs.client.Incr(ctx, rs.counterKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return value, nil
}

// GetCounter returns the named counter.
func (rs *RedisStorage) GetCounter(ctx context.Context, name string) (int64, error) {
	value, err := rs.client.Get(ctx, rs.counterKey(name)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter %s: %w", name, err)
	}
	return value, nil
}

// Ping verifies the Redis server is reachable.
func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Close closes the client connection pool.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
