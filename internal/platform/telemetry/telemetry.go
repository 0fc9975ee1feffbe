// Package telemetry wires OpenTelemetry tracing and metrics for the scheduler
// service and exposes the tracer and instruments used by the scheduling code paths.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ehr/healthevents"

// Config holds all configuration for the telemetry provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is a host:port gRPC collector for spans and metrics. Empty
	// keeps both in-process.
	OTLPEndpoint string
	SampleRate   float64
	// MetricInterval is how often metrics are pushed to the collector.
	MetricInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "ehr-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1.0
	}
	if c.MetricInterval <= 0 {
		c.MetricInterval = 30 * time.Second
	}
}

type setupOptions struct {
	traceOpts []sdktrace.TracerProviderOption
	readers   []sdkmetric.Reader
}

// Option attaches extra processors or readers to the providers Setup builds.
type Option func(*setupOptions)

// WithSpanProcessor adds a span processor, such as a test recorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *setupOptions) {
		o.traceOpts = append(o.traceOpts, sdktrace.WithSpanProcessor(sp))
	}
}

// WithMetricReader adds a metric reader, such as a manual reader in tests.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *setupOptions) {
		o.readers = append(o.readers, r)
	}
}

// Provider owns the SDK tracer and meter providers installed as the globals.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup installs global tracer and meter providers and W3C propagators. When an
// OTLP endpoint is configured spans are batched and metrics pushed
// periodically to it.
func Setup(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	cfg.applyDefaults()
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		traceExp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(traceExp))

		metricExp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = traceExp.Shutdown(ctx)
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.MetricInterval))))
	}
	tpOpts = append(tpOpts, o.traceOpts...)
	for _, r := range o.readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp, mp: mp}, nil
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}

// Tracer returns the tracer for this module from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the meter for this module from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// SchedulerMetrics are the instruments recorded by the scheduling service.
type SchedulerMetrics struct {
	EventsCreated    metric.Int64Counter
	SeriesDeleted    metric.Int64Counter
	SchedulingErrors metric.Int64Counter
	ExpandDuration   metric.Float64Histogram
}

// NewSchedulerMetrics creates the instruments on m. A nil meter uses Meter().
func NewSchedulerMetrics(m metric.Meter) (*SchedulerMetrics, error) {
	if m == nil {
		m = Meter()
	}
	created, err := m.Int64Counter("scheduler.events.created",
		metric.WithDescription("Health events persisted"))
	if err != nil {
		return nil, err
	}
	deleted, err := m.Int64Counter("scheduler.series.deleted",
		metric.WithDescription("Event series removed"))
	if err != nil {
		return nil, err
	}
	failures, err := m.Int64Counter("scheduler.errors",
		metric.WithDescription("Scheduling failures by kind"))
	if err != nil {
		return nil, err
	}
	expand, err := m.Float64Histogram("scheduler.expand.duration",
		metric.WithDescription("Time spent expanding one order"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &SchedulerMetrics{
		EventsCreated:    created,
		SeriesDeleted:    deleted,
		SchedulingErrors: failures,
		ExpandDuration:   expand,
	}, nil
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TracingMiddleware opens a server span per request, continuing any incoming
// trace context.
func TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := Tracer().Start(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
				),
			)
			defer span.End()

			start := time.Now()
			c.SetRequest(req.WithContext(ctx))
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			span.SetAttributes(
				attribute.Int("http.status_code", status),
				attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
			)
			if status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
			}
			return err
		}
	}
}
