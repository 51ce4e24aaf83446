package observability

import (
	"context"
	"time"

	"clickgate/internal/models"
	"clickgate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "clickgate/storage"

// InstrumentedStorage decorates a storage.Storage with a span, a latency
// sample and an error count per call.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// InstrumentOption overrides the global OpenTelemetry providers.
type InstrumentOption func(*instrumentOptions)

type instrumentOptions struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

func WithTracerProvider(tp trace.TracerProvider) InstrumentOption {
	return func(o *instrumentOptions) { o.tp = tp }
}

func WithMeterProvider(mp metric.MeterProvider) InstrumentOption {
	return func(o *instrumentOptions) { o.mp = mp }
}

// NewInstrumentedStorage wraps inner. Without options it uses the providers
// registered by Setup.
func NewInstrumentedStorage(inner storage.Storage, opts ...InstrumentOption) (*InstrumentedStorage, error) {
	o := instrumentOptions{tp: otel.GetTracerProvider(), mp: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.mp.Meter(instrumentationName)
	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of failed storage operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   o.tp.Tracer(instrumentationName),
		duration: duration,
		errors:   errCounter,
	}, nil
}

// observe runs fn inside a span named after op and records its outcome.
func (s *InstrumentedStorage) observe(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := s.tracer.Start(ctx, "storage."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("storage.operation", op))...),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	set := metric.WithAttributes(attribute.String("operation", op))
	s.duration.Record(ctx, time.Since(start).Seconds(), set)
	if err != nil {
		s.errors.Add(ctx, 1, set)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (s *InstrumentedStorage) GetBucket(ctx context.Context, key string) (*models.Bucket, error) {
	var bucket *models.Bucket
	err := s.observe(ctx, "GetBucket", func(ctx context.Context) error {
		var err error
		bucket, err = s.inner.GetBucket(ctx, key)
		return err
	}, attribute.String("ratelimit.key", key))
	return bucket, err
}

func (s *InstrumentedStorage) SaveBucket(ctx context.Context, bucket *models.Bucket) error {
	return s.observe(ctx, "SaveBucket", func(ctx context.Context) error {
		return s.inner.SaveBucket(ctx, bucket)
	}, attribute.String("ratelimit.key", bucket.Key), attribute.Int("ratelimit.tokens", bucket.Tokens))
}

func (s *InstrumentedStorage) PendingWakes(ctx context.Context) ([]models.PendingWake, error) {
	var wakes []models.PendingWake
	err := s.observe(ctx, "PendingWakes", func(ctx context.Context) error {
		var err error
		wakes, err = s.inner.PendingWakes(ctx)
		return err
	})
	return wakes, err
}

func (s *InstrumentedStorage) IncrementCounter(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.observe(ctx, "IncrementCounter", func(ctx context.Context) error {
		var err error
		n, err = s.inner.IncrementCounter(ctx, name)
		return err
	}, attribute.String("counter.name", name))
	return n, err
}

func (s *InstrumentedStorage) GetCounter(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.observe(ctx, "GetCounter", func(ctx context.Context) error {
		var err error
		n, err = s.inner.GetCounter(ctx, name)
		return err
	}, attribute.String("counter.name", name))
	return n, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	return s.observe(ctx, "Ping", s.inner.Ping)
}

func (s *InstrumentedStorage) Close() error {
	return s.observe(context.Background(), "Close", func(context.Context) error {
		return s.inner.Close()
	})
}
