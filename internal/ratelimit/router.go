package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clickgate/internal/models"
	"clickgate/internal/storage"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const alarmStoreTimeout = 5 * time.Second

// Router owns one bucket instance per key and routes every operation for a
// key to it. Operations on the same key run one at a time; different keys
// proceed in parallel.
type Router struct {
	engine       Engine
	store        storage.Storage
	clock        clockwork.Clock
	alarms       *AlarmScheduler
	logger       *slog.Logger
	persistState bool
	idleTimeout  time.Duration

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	decisions metric.Int64Counter
	fired     metric.Int64Counter
	live      metric.Int64UpDownCounter
}

// instance is the in-memory owner of one key's bucket. bucket is nil until
// the state has been loaded from the store.
type instance struct {
	mu     sync.Mutex
	bucket *models.Bucket

	// guarded by Router.mu
	refs     int
	lastUsed time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Router) { r.clock = clock }
}

// WithLogger sets the logger used for background failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMeterProvider records metrics through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Router) { r.initMetrics(mp) }
}

// NewRouter creates a router over store using the bucket parameters in cfg.
// Call Restore afterwards to re-arm wakes persisted by a previous process.
func NewRouter(store storage.Storage, cfg models.RateLimitConfig, opts ...Option) *Router {
	r := &Router{
		engine: Engine{
			Capacity:       cfg.Capacity,
			RefillRate:     cfg.RefillRate,
			RefillInterval: cfg.RefillInterval,
		},
		store:        store,
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		persistState: cfg.PersistState,
		idleTimeout:  cfg.IdleTimeout,
		instances:    make(map[string]*instance),
		done:         make(chan struct{}),
	}
	r.initMetrics(otel.GetMeterProvider())

	for _, opt := range opts {
		opt(r)
	}

	r.alarms = NewAlarmScheduler(r.clock, r.onAlarm)

	if r.idleTimeout > 0 && cfg.CleanupInterval > 0 {
		r.wg.Add(1)
		go r.cleanup(cfg.CleanupInterval)
	}

	return r
}

func (r *Router) initMetrics(mp metric.MeterProvider) {
	meter := mp.Meter("clickgate/ratelimit")

	// Instrument creation only fails for invalid names, which these are not.
	r.decisions, _ = meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	r.fired, _ = meter.Int64Counter(
		"ratelimit.alarms.fired",
		metric.WithDescription("Refill alarms handled"),
		metric.WithUnit("{alarm}"),
	)
	r.live, _ = meter.Int64UpDownCounter(
		"ratelimit.instances",
		metric.WithDescription("Bucket instances held in memory"),
		metric.WithUnit("{instance}"),
	)
}

// Acquire takes one token for key. The new bucket state is saved before the
// result is reported; if the save fails nothing changes and the error wraps
// ErrStoreUnavailable.
func (r *Router) Acquire(ctx context.Context, key string) (Info, error) {
	if key == "" {
		return Info{}, ErrEmptyKey
	}

	inst := r.checkout(key)
	defer r.checkin(inst)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	// Storage keeps millisecond precision; a finer now would let lastRefill
	// step backwards after an evicted instance is reloaded.
	now := r.clock.Now().Truncate(time.Millisecond)
	b, err := r.load(ctx, inst, key, now)
	if err != nil {
		r.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", "error")))
		return Info{}, err
	}

	wait := r.engine.Acquire(b, now)

	if err := r.commit(ctx, inst, b); err != nil {
		r.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", "error")))
		return Info{}, err
	}

	decision := "allowed"
	if wait > 0 {
		decision = "limited"
	}
	r.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))

	return Info{
		Limit:      r.engine.Capacity,
		Remaining:  b.Tokens,
		ResetAt:    r.engine.ResetAt(b, now),
		RetryAfter: wait,
	}, nil
}

// Restore re-arms every wake recorded in the store and returns how many were
// armed.
func (r *Router) Restore(ctx context.Context) (int, error) {
	wakes, err := r.store.PendingWakes(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list pending wakes: %w", ErrStoreUnavailable, err)
	}
	for _, w := range wakes {
		r.alarms.Arm(w.Key, w.At)
	}
	return len(wakes), nil
}

// Instances returns the number of bucket instances held in memory.
func (r *Router) Instances() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Close stops the cleanup loop and every pending alarm. Bucket state stays in
// the store.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		close(r.done)
		r.alarms.Close()
		r.wg.Wait()
	})
}

func (r *Router) checkout(key string) *instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[key]
	if !ok {
		inst = &instance{}
		r.instances[key] = inst
		r.live.Add(context.Background(), 1)
	}
	inst.refs++
	inst.lastUsed = r.clock.Now()
	return inst
}

func (r *Router) checkin(inst *instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst.refs--
	inst.lastUsed = r.clock.Now()
}

// load returns a working copy of the bucket. Must be called with inst.mu held.
func (r *Router) load(ctx context.Context, inst *instance, key string, now time.Time) (*models.Bucket, error) {
	if inst.bucket != nil {
		b := *inst.bucket
		return &b, nil
	}

	stored, err := r.store.GetBucket(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return r.engine.NewBucket(key, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load bucket: %w", ErrStoreUnavailable, err)
	}

	if !r.persistState {
		// Only the wake outlives the instance.
		fresh := r.engine.NewBucket(key, now)
		fresh.WakeAt = stored.WakeAt
		return fresh, nil
	}
	return stored, nil
}

// commit saves b and, once the save succeeded, makes it the instance's state
// and syncs the alarm with its wake. Must be called with inst.mu held.
func (r *Router) commit(ctx context.Context, inst *instance, b *models.Bucket) error {
	if inst.bucket == nil || !sameBucket(inst.bucket, b) {
		if err := r.store.SaveBucket(ctx, b); err != nil {
			return fmt.Errorf("%w: save bucket: %w", ErrStoreUnavailable, err)
		}
	}

	inst.bucket = b
	if b.HasWake() {
		r.alarms.Arm(b.Key, b.WakeAt)
	} else {
		r.alarms.Disarm(b.Key)
	}
	return nil
}

func (r *Router) onAlarm(key string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), alarmStoreTimeout)
	defer cancel()

	inst := r.checkout(key)
	defer r.checkin(inst)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	r.fired.Add(ctx, 1)

	now := r.clock.Now().Truncate(time.Millisecond)
	b, err := r.load(ctx, inst, key, now)
	if err == nil {
		r.engine.Fire(b, now)
		err = r.commit(ctx, inst, b)
	}
	if err != nil {
		retryAt := now.Add(r.engine.RefillInterval)
		r.logger.Error("Failed to refill bucket, retrying",
			"key", key,
			"retry_at", retryAt,
			"error", err,
		)
		r.alarms.Arm(key, retryAt)
	}
}

func (r *Router) cleanup(interval time.Duration) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.Chan():
			if n := r.evictIdle(); n > 0 {
				r.logger.Debug("Evicted idle rate limit instances", "count", n)
			}
		}
	}
}

// evictIdle drops instances that are not in use and have been idle for at
// least the idle timeout. Their state remains in the store and pending alarms
// stay armed.
func (r *Router) evictIdle() int {
	cutoff := r.clock.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, inst := range r.instances {
		if inst.refs == 0 && !inst.lastUsed.After(cutoff) {
			delete(r.instances, key)
			evicted++
		}
	}
	if evicted > 0 {
		r.live.Add(context.Background(), -int64(evicted))
	}
	return evicted
}

func sameBucket(a, b *models.Bucket) bool {
	return a.Key == b.Key &&
		a.Tokens == b.Tokens &&
		a.LastRefill.Equal(b.LastRefill) &&
		a.WakeAt.Equal(b.WakeAt)
}
