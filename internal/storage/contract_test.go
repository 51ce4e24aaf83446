package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"clickgate/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStorageContract exercises the behavior every backend must share. Keys
// and counter names are unique per run so shared databases can be reused.
func testStorageContract(t *testing.T, store Storage) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("missing bucket returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetBucket(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save and get bucket", func(t *testing.T) {
		key := "203.0.113." + uuid.NewString()
		bucket := &models.Bucket{
			Key:        key,
			Tokens:     7,
			LastRefill: base.Add(1500 * time.Microsecond),
			WakeAt:     base.Add(time.Second),
		}
		require.NoError(t, store.SaveBucket(ctx, bucket))

		got, err := store.GetBucket(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, got.Key)
		assert.Equal(t, 7, got.Tokens)
		assert.True(t, base.Add(time.Millisecond).Equal(got.LastRefill), "last refill truncated to ms, got %v", got.LastRefill)
		assert.True(t, base.Add(time.Second).Equal(got.WakeAt))
		assert.True(t, got.HasWake())
	})

	t.Run("save overwrites and clears wake", func(t *testing.T) {
		key := "overwrite-" + uuid.NewString()
		require.NoError(t, store.SaveBucket(ctx, &models.Bucket{
			Key: key, Tokens: 0, LastRefill: base, WakeAt: base.Add(time.Second),
		}))
		require.NoError(t, store.SaveBucket(ctx, &models.Bucket{
			Key: key, Tokens: 10, LastRefill: base.Add(10 * time.Second),
		}))

		got, err := store.GetBucket(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 10, got.Tokens)
		assert.False(t, got.HasWake())

		wakes, err := store.PendingWakes(ctx)
		require.NoError(t, err)
		for _, w := range wakes {
			assert.NotEqual(t, key, w.Key, "cleared wake must not be listed")
		}
	})

	t.Run("returned bucket is a copy", func(t *testing.T) {
		key := "copy-" + uuid.NewString()
		require.NoError(t, store.SaveBucket(ctx, &models.Bucket{Key: key, Tokens: 3, LastRefill: base}))

		got, err := store.GetBucket(ctx, key)
		require.NoError(t, err)
		got.Tokens = 99

		again, err := store.GetBucket(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, again.Tokens)
	})

	t.Run("pending wakes ordered by due time", func(t *testing.T) {
		late := "late-" + uuid.NewString()
		early := "early-" + uuid.NewString()
		require.NoError(t, store.SaveBucket(ctx, &models.Bucket{
			Key: late, Tokens: 1, LastRefill: base, WakeAt: base.Add(5 * time.Second),
		}))
		require.NoError(t, store.SaveBucket(ctx, &models.Bucket{
			Key: early, Tokens: 1, LastRefill: base, WakeAt: base.Add(2 * time.Second),
		}))

		wakes, err := store.PendingWakes(ctx)
		require.NoError(t, err)

		positions := map[string]int{}
		for i, w := range wakes {
			positions[w.Key] = i
		}
		require.Contains(t, positions, early)
		require.Contains(t, positions, late)
		assert.Less(t, positions[early], positions[late])
		assert.True(t, base.Add(2*time.Second).Equal(wakes[positions[early]].At))
	})

	t.Run("counter starts at zero and increments", func(t *testing.T) {
		name := "clicks-" + uuid.NewString()
		count, err := store.GetCounter(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		for want := int64(1); want <= 3; want++ {
			got, err := store.IncrementCounter(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		count, err = store.GetCounter(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		name := "concurrent-" + uuid.NewString()
		const workers = 20

		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.IncrementCounter(ctx, name)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		count, err := store.GetCounter(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), count)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
