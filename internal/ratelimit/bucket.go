package ratelimit

import (
	"time"

	"clickgate/internal/models"
)

// Default bucket parameters.
const (
	DefaultCapacity       = 10
	DefaultRefillRate     = 1
	DefaultRefillInterval = time.Second
)

// Engine holds the token bucket arithmetic. It has no locks and no I/O: every
// method mutates the bucket it is given, and callers serialize access per key.
//
// A bucket is Active while it has a pending wake and Idle otherwise.
type Engine struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

// DefaultEngine returns an engine with a capacity of 10 refilled at one token
// per second.
func DefaultEngine() Engine {
	return Engine{
		Capacity:       DefaultCapacity,
		RefillRate:     DefaultRefillRate,
		RefillInterval: DefaultRefillInterval,
	}
}

// NewBucket returns a full bucket for key.
func (e Engine) NewBucket(key string, now time.Time) *models.Bucket {
	return &models.Bucket{
		Key:        key,
		Tokens:     e.Capacity,
		LastRefill: now,
	}
}

// Refill credits refillRate tokens for every whole interval elapsed since
// lastRefill, capped at capacity.
//
// lastRefill is not reset to now. It moves forward by the credited intervals
// only, so the fractional remainder carries over to the next call and a
// caller polling just under one interval apart still earns tokens. This holds
// even when the bucket is already full.
func (e Engine) Refill(b *models.Bucket, now time.Time) {
	elapsed := now.Sub(b.LastRefill)
	if elapsed < e.RefillInterval {
		return
	}

	intervals := int64(elapsed / e.RefillInterval)
	added := intervals * int64(e.RefillRate)
	if tokens := int64(b.Tokens) + added; tokens < int64(e.Capacity) {
		b.Tokens = int(tokens)
	} else {
		b.Tokens = e.Capacity
	}
	b.LastRefill = b.LastRefill.Add(time.Duration(intervals) * e.RefillInterval)
}

// EnsureWakeScheduled schedules a wake one interval from now unless one is
// already pending. It reports whether a new wake was scheduled.
func (e Engine) EnsureWakeScheduled(b *models.Bucket, now time.Time) bool {
	if b.HasWake() {
		return false
	}
	b.WakeAt = now.Add(e.RefillInterval)
	return true
}

// Acquire refills the bucket, makes sure a wake is pending and takes one
// token. It returns zero when a token was taken, otherwise the time until
// the next token is credited.
func (e Engine) Acquire(b *models.Bucket, now time.Time) time.Duration {
	e.Refill(b, now)
	e.EnsureWakeScheduled(b, now)

	if b.Tokens > 0 {
		b.Tokens--
		return 0
	}
	return e.RetryAfter()
}

// Fire handles a timer firing. A firing at or after the pending wake consumes
// it, refills, and schedules the next wake while the bucket is below
// capacity. A firing with no due wake only refills.
func (e Engine) Fire(b *models.Bucket, now time.Time) {
	if !b.HasWake() || now.Before(b.WakeAt) {
		e.Refill(b, now)
		return
	}

	b.WakeAt = time.Time{}
	e.Refill(b, now)
	if b.Tokens < e.Capacity {
		b.WakeAt = now.Add(e.RefillInterval)
	}
}

// RetryAfter is the wait reported to callers that found the bucket empty.
func (e Engine) RetryAfter() time.Duration {
	return e.RefillInterval / time.Duration(e.RefillRate)
}

// ResetAt estimates when the bucket will be full again.
func (e Engine) ResetAt(b *models.Bucket, now time.Time) time.Time {
	missing := e.Capacity - b.Tokens
	if missing <= 0 {
		return now
	}
	intervals := (missing + e.RefillRate - 1) / e.RefillRate
	return b.LastRefill.Add(time.Duration(intervals) * e.RefillInterval)
}
