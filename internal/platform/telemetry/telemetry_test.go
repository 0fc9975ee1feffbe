package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ---------------------------------------------------------------------------
// Config defaults
// ---------------------------------------------------------------------------

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if cfg.ServiceName != "ehr-server" {
		t.Fatalf("expected default ServiceName='ehr-server', got %q", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "0.0.0" {
		t.Fatalf("expected default ServiceVersion='0.0.0', got %q", cfg.ServiceVersion)
	}
	if cfg.Environment != "development" {
		t.Fatalf("expected default Environment='development', got %q", cfg.Environment)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected default SampleRate=1.0, got %f", cfg.SampleRate)
	}
	if cfg.MetricInterval != 30*time.Second {
		t.Fatalf("expected default MetricInterval=30s, got %s", cfg.MetricInterval)
	}
}

func TestConfig_OutOfRangeSampleRate(t *testing.T) {
	cfg := Config{SampleRate: 3}
	cfg.applyDefaults()
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected SampleRate clamped to 1.0, got %f", cfg.SampleRate)
	}
}

// ---------------------------------------------------------------------------
// Tracing middleware
// ---------------------------------------------------------------------------

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	p, err := Setup(context.Background(), Config{}, WithSpanProcessor(rec))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return rec
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingMiddleware_RecordsRouteAndStatus(t *testing.T) {
	rec := setupRecorder(t)

	e := echo.New()
	e.Use(TracingMiddleware())
	e.GET("/api/v1/health-events", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health-events?reference=abc", nil)
	e.ServeHTTP(httptest.NewRecorder(), req)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "GET /api/v1/health-events" {
		t.Errorf("unexpected span name %q", s.Name())
	}
	if v, ok := attr(s.Attributes(), "http.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("expected http.status_code 200, got %v", v)
	}
	if s.Status().Code == codes.Error {
		t.Error("2xx must not mark the span as failed")
	}
}

func TestTracingMiddleware_ServerErrorMarksSpan(t *testing.T) {
	rec := setupRecorder(t)

	e := echo.New()
	e.Use(TracingMiddleware())
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "store down")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Error("expected error status on 500")
	}
}

func TestRecordError(t *testing.T) {
	rec := setupRecorder(t)
	_, span := Tracer().Start(context.Background(), "op")
	RecordError(span, errors.New("bad"))
	RecordError(span, nil)
	span.End()

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "bad" {
		t.Errorf("unexpected status %+v", s.Status())
	}
	if len(s.Events()) != 1 {
		t.Errorf("expected one recorded error event, got %d", len(s.Events()))
	}
}

func TestNewSchedulerMetrics(t *testing.T) {
	m, err := NewSchedulerMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewSchedulerMetrics: %v", err)
	}
	if m.EventsCreated == nil || m.SeriesDeleted == nil || m.SchedulingErrors == nil || m.ExpandDuration == nil {
		t.Fatal("expected every instrument to be created")
	}
	m.EventsCreated.Add(context.Background(), 3)
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, not an int64 sum", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestSetup_InstallsMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := Setup(context.Background(), Config{}, WithMetricReader(reader))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewSchedulerMetrics(nil)
	if err != nil {
		t.Fatalf("NewSchedulerMetrics: %v", err)
	}
	ctx := context.Background()
	m.EventsCreated.Add(ctx, 3)
	m.EventsCreated.Add(ctx, 2)
	m.SchedulingErrors.Add(ctx, 1)

	if got, ok := collectSum(t, reader, "scheduler.events.created"); !ok || got != 5 {
		t.Errorf("scheduler.events.created = %d (found %v), want 5", got, ok)
	}
	if got, ok := collectSum(t, reader, "scheduler.errors"); !ok || got != 1 {
		t.Errorf("scheduler.errors = %d (found %v), want 1", got, ok)
	}
}

func TestProvider_ShutdownStopsReaders(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := Setup(context.Background(), Config{}, WithMetricReader(reader))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err == nil {
		t.Error("expected collect on a shut down reader to fail")
	}
}
