// Package ratelimit implements a per-key token bucket rate limiter whose
// state lives in a durable store. Each key owns one bucket instance that is
// mutated by exactly one goroutine at a time, either a request calling
// Acquire or a timer firing to refill the bucket while it is below capacity.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyKey is returned when Acquire is called without a key.
	ErrEmptyKey = errors.New("rate limit key is empty")

	// ErrStoreUnavailable wraps any failure to read or write bucket state.
	ErrStoreUnavailable = errors.New("rate limiter store unavailable")
)

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Acquire tries to take one token from the bucket for key. It never
	// blocks waiting for a token: when the bucket is empty the returned Info
	// carries a non-zero RetryAfter instead.
	Acquire(ctx context.Context, key string) (Info, error)

	// Close stops timers and background goroutines.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Bucket capacity
	Remaining  int           // Tokens left after this call
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // Suggested wait; zero when the call was admitted
}

// Allowed reports whether the call consumed a token.
func (i Info) Allowed() bool {
	return i.RetryAfter == 0
}

// WaitMilliseconds returns the suggested wait in whole milliseconds.
func (i Info) WaitMilliseconds() int64 {
	return i.RetryAfter.Milliseconds()
}
