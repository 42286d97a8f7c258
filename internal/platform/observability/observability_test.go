package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLoggerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "debug", "json").WithComponent("cache")

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.LogError(ctx, "set failed", errors.New("boom"), "key", "user:1")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "set failed", line["msg"])
	assert.Equal(t, "cache", line["component"])
	assert.Equal(t, "user:1", line["key"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "warn", "text")

	logger.LogInfo(context.Background(), "hidden")
	logger.LogDebug(context.Background(), "hidden too")
	assert.Zero(t, buf.Len())

	logger.LogWarn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestNopMetricsAcceptRecords(t *testing.T) {
	m := NewNopMetrics()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordCacheOperation(ctx, "memory", "get", "hit", time.Millisecond)
		m.RecordCacheHit(ctx, "memory")
		m.RecordCacheMiss(ctx, "memory")
		m.RecordWarmup(ctx, "static", true, time.Second)
		m.RecordHTTPRequest(ctx, "/v1/cache/:key", http.StatusOK, time.Millisecond)
		m.SetCircuitBreakerState(ctx, "cache", 1)
		m.RecordError(ctx, "backend")
	})
	require.NoError(t, m.ObserveCacheStats("memory", func() CacheStats { return CacheStats{} }))
	assert.NoError(t, m.Shutdown(ctx))
}

func TestPrometheusExport(t *testing.T) {
	ctx := context.Background()
	m, err := NewMetrics(ctx, MetricsConfig{ServiceName: "cachekit-test", Enabled: true, Exporter: ExporterPrometheus})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	require.NoError(t, m.ObserveCacheStats("memory", func() CacheStats {
		return CacheStats{Entries: 7, Evictions: 2, Expirations: 1}
	}))
	m.RecordCacheOperation(ctx, "memory", "set", "ok", 2*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cache_entries")
	assert.Contains(t, string(body), `layer="memory"`)
	assert.Contains(t, string(body), "cache_operations_total")
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), TracingConfig{ServiceName: "cachekit"})
	require.NoError(t, err)

	_, span := tp.StartSpan(context.Background(), "cache.get")
	assert.False(t, span.IsRecording())
	EndSpanWithError(span, errors.New("ignored"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, span := tp.Tracer("test").Start(context.Background(), "cache.set")
	AddSpanEvent(ctx, "evicted", attribute.String("cache.key", "old"))
	EndSpanWithError(span, errors.New("backend down"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "backend down", spans[0].Status().Description)

	var names []string
	for _, ev := range spans[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "evicted")
	assert.Contains(t, names, "exception")
}
