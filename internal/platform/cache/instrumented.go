package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agatticelli/cachekit/internal/platform/observability"
)

// Instrumented decorates a Cache with spans, metrics and error logs.
// It changes no results: every call returns exactly what the wrapped cache returned.
type Instrumented struct {
	next    Cache
	backend string
	tracer  trace.Tracer
	metrics *observability.Metrics
	logger  *observability.Logger
}

var _ Cache = (*Instrumented)(nil)

// NewInstrumented wraps next. Any of tracer, metrics and logger may be nil.
func NewInstrumented(next Cache, backend string, tracer trace.Tracer, metrics *observability.Metrics, logger *observability.Logger) *Instrumented {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("cache")
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Instrumented{
		next:    next,
		backend: backend,
		tracer:  tracer,
		metrics: metrics,
		logger:  logger.WithComponent("cache"),
	}
}

// Unwrap returns the decorated cache
func (c *Instrumented) Unwrap() Cache {
	return c.next
}

func (c *Instrumented) start(ctx context.Context, op, key string) (context.Context, trace.Span, time.Time) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.backend", c.backend),
		attribute.String("cache.op", op),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("cache.key", key))
	}
	ctx, span := c.tracer.Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, span, time.Now()
}

func (c *Instrumented) finish(ctx context.Context, span trace.Span, op, key string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		// A miss is a normal result, not a failure
		status = "miss"
		err = nil
	default:
		status = "error"
		c.metrics.RecordError(ctx, "cache_"+op)
		c.logger.LogError(ctx, "cache operation failed", err, "op", op, "key", key, "backend", c.backend)
	}
	c.metrics.RecordCacheOperation(ctx, c.backend, op, status, time.Since(start))
	observability.EndSpanWithError(span, err)
}

func (c *Instrumented) Connect(ctx context.Context) (err error) {
	ctx, span, start := c.start(ctx, "connect", "")
	defer func() { c.finish(ctx, span, "connect", "", start, err) }()
	return c.next.Connect(ctx)
}

func (c *Instrumented) Disconnect(ctx context.Context) (err error) {
	ctx, span, start := c.start(ctx, "disconnect", "")
	defer func() { c.finish(ctx, span, "disconnect", "", start, err) }()
	return c.next.Disconnect(ctx)
}

func (c *Instrumented) IsConnected() bool {
	return c.next.IsConnected()
}

func (c *Instrumented) Get(ctx context.Context, key string) (v interface{}, err error) {
	ctx, span, start := c.start(ctx, "get", key)
	defer func() {
		switch {
		case err == nil:
			c.metrics.RecordCacheHit(ctx, c.backend)
		case errors.Is(err, ErrNotFound):
			c.metrics.RecordCacheMiss(ctx, c.backend)
		}
		span.SetAttributes(attribute.Bool("cache.hit", err == nil))
		c.finish(ctx, span, "get", key, start, err)
	}()
	return c.next.Get(ctx, key)
}

func (c *Instrumented) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) (ok bool, err error) {
	ctx, span, start := c.start(ctx, "set", key)
	span.SetAttributes(attribute.Int64("cache.ttl_ms", ttl.Milliseconds()))
	defer func() { c.finish(ctx, span, "set", key, start, err) }()
	return c.next.Set(ctx, key, value, ttl)
}

func (c *Instrumented) Delete(ctx context.Context, key string) (ok bool, err error) {
	ctx, span, start := c.start(ctx, "delete", key)
	defer func() { c.finish(ctx, span, "delete", key, start, err) }()
	return c.next.Delete(ctx, key)
}

func (c *Instrumented) Exists(ctx context.Context, key string) (ok bool, err error) {
	ctx, span, start := c.start(ctx, "exists", key)
	defer func() { c.finish(ctx, span, "exists", key, start, err) }()
	return c.next.Exists(ctx, key)
}

func (c *Instrumented) Expire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error) {
	ctx, span, start := c.start(ctx, "expire", key)
	defer func() { c.finish(ctx, span, "expire", key, start, err) }()
	return c.next.Expire(ctx, key, ttl)
}

func (c *Instrumented) TTL(ctx context.Context, key string) (secs int64, err error) {
	ctx, span, start := c.start(ctx, "ttl", key)
	defer func() { c.finish(ctx, span, "ttl", key, start, err) }()
	return c.next.TTL(ctx, key)
}

func (c *Instrumented) Keys(ctx context.Context, pattern string) (keys []string, err error) {
	ctx, span, start := c.start(ctx, "keys", "")
	span.SetAttributes(attribute.String("cache.pattern", pattern))
	defer func() {
		span.SetAttributes(attribute.Int("cache.keys", len(keys)))
		c.finish(ctx, span, "keys", "", start, err)
	}()
	return c.next.Keys(ctx, pattern)
}

func (c *Instrumented) Flush(ctx context.Context) (ok bool, err error) {
	ctx, span, start := c.start(ctx, "flush", "")
	defer func() { c.finish(ctx, span, "flush", "", start, err) }()
	return c.next.Flush(ctx)
}

func (c *Instrumented) Incr(ctx context.Context, key string, amount int64) (n int64, err error) {
	ctx, span, start := c.start(ctx, "incr", key)
	defer func() { c.finish(ctx, span, "incr", key, start, err) }()
	return c.next.Incr(ctx, key, amount)
}

func (c *Instrumented) Decr(ctx context.Context, key string, amount int64) (n int64, err error) {
	ctx, span, start := c.start(ctx, "decr", key)
	defer func() { c.finish(ctx, span, "decr", key, start, err) }()
	return c.next.Decr(ctx, key, amount)
}
