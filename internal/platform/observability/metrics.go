package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metric exporter types
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// MetricsConfig configures the metrics pipeline
type MetricsConfig struct {
	ServiceName string
	Enabled     bool
	Exporter    string        // prometheus or otlp
	Endpoint    string        // OTLP gRPC endpoint
	Interval    time.Duration // OTLP push interval
}

// Metrics holds all application metrics
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// Cache metrics
	CacheOperations        metric.Int64Counter
	CacheOperationDuration metric.Float64Histogram
	CacheHits              metric.Int64Counter
	CacheMisses            metric.Int64Counter
	CacheEntries           metric.Int64ObservableGauge
	CacheEvictions         metric.Int64ObservableCounter
	CacheExpirations       metric.Int64ObservableCounter

	// Cache warmup metrics
	WarmupDuration metric.Float64Histogram

	// HTTP metrics
	HTTPRequests        metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter
}

// NewMetrics creates a new Metrics instance. A disabled config yields no-op instruments.
func NewMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(cfg.ServiceName)}
		if err := m.initMetrics(); err != nil {
			return nil, err
		}
		return m, nil
	}

	res, err := serviceResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	var reader sdkmetric.Reader
	switch cfg.Exporter {
	case ExporterOTLP:
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := cfg.Interval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	default:
		// The exporter registers with the default Prometheus registry served by Handler
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		reader = exporter
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	m := &Metrics{
		meter:    provider.Meter(cfg.ServiceName),
		provider: provider,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// NewNopMetrics returns metrics backed by no-op instruments
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(context.Background(), MetricsConfig{ServiceName: "nop"})
	return m
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheOperations, err = m.meter.Int64Counter(
		"cache.operations",
		metric.WithDescription("Total cache operations by backend, operation and status"),
	)
	if err != nil {
		return err
	}

	m.CacheOperationDuration, err = m.meter.Float64Histogram(
		"cache.operation.duration",
		metric.WithDescription("Cache operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.CacheHits, err = m.meter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Total cache hits"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"cache.misses",
		metric.WithDescription("Total cache misses"),
	)
	if err != nil {
		return err
	}

	m.CacheEntries, err = m.meter.Int64ObservableGauge(
		"cache.entries",
		metric.WithDescription("Entries held by the in-process cache"),
	)
	if err != nil {
		return err
	}

	m.CacheEvictions, err = m.meter.Int64ObservableCounter(
		"cache.evictions",
		metric.WithDescription("Entries evicted by the in-process cache to respect capacity"),
	)
	if err != nil {
		return err
	}

	m.CacheExpirations, err = m.meter.Int64ObservableCounter(
		"cache.expirations",
		metric.WithDescription("Expired entries purged by the in-process cache"),
	)
	if err != nil {
		return err
	}

	m.WarmupDuration, err = m.meter.Float64Histogram(
		"cache.warmup.duration",
		metric.WithDescription("Cache warmup duration per provider in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.HTTPRequests, err = m.meter.Int64Counter(
		"http.requests",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return err
	}

	m.HTTPRequestDuration, err = m.meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"errors",
		metric.WithDescription("Total errors encountered"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheOperation records a cache operation and its duration
func (m *Metrics) RecordCacheOperation(ctx context.Context, backend, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.CacheOperations.Add(ctx, 1, attrs)
	m.CacheOperationDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// CacheStats is a point-in-time view of an in-process cache
type CacheStats struct {
	Entries     int64
	Evictions   int64
	Expirations int64
}

// ObserveCacheStats reports stats from source on every collection
func (m *Metrics) ObserveCacheStats(layer string, source func() CacheStats) error {
	attrs := metric.WithAttributes(attribute.String("layer", layer))
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := source()
		o.ObserveInt64(m.CacheEntries, s.Entries, attrs)
		o.ObserveInt64(m.CacheEvictions, s.Evictions, attrs)
		o.ObserveInt64(m.CacheExpirations, s.Expirations, attrs)
		return nil
	}, m.CacheEntries, m.CacheEvictions, m.CacheExpirations)
	return err
}

// RecordWarmup records a warmup provider run
func (m *Metrics) RecordWarmup(ctx context.Context, provider string, success bool, duration time.Duration) {
	m.WarmupDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.HTTPRequests.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Shutdown flushes and stops the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	// The OpenTelemetry Prometheus exporter registers with the default registry
	return promhttp.Handler()
}
