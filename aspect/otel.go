package aspect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kbukum/plugkit/aspect"

// OTelConfig configures the OpenTelemetry recorder.
type OTelConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// SampleRate is the sampling rate (0.0 to 1.0).
	SampleRate float64
}

// DefaultOTelConfig returns sensible defaults for development.
func DefaultOTelConfig(serviceName string) OTelConfig {
	return OTelConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// OTelRecorder adapts the Recorder interface onto OpenTelemetry traces and
// metrics. Providers stay local to the recorder; nothing is installed into
// otel's process-wide globals.
type OTelRecorder struct {
	tracer trace.Tracer
	meter  metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	duration metric.Float64Histogram

	shutdowns []func(context.Context) error
}

// NewOTel builds an OTelRecorder with its own tracer and meter providers
// exporting over OTLP HTTP. Call Shutdown on teardown to flush.
func NewOTel(ctx context.Context, cfg OTelConfig) (*OTelRecorder, error) {
	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)

	rec := newFromProviders(tp, mp)
	rec.shutdowns = append(rec.shutdowns, tp.Shutdown, mp.Shutdown)
	return rec, nil
}

// NewOTelFromProviders wraps existing providers. Useful for tests and for
// applications that manage their own OpenTelemetry setup.
func NewOTelFromProviders(tp trace.TracerProvider, mp metric.MeterProvider) *OTelRecorder {
	return newFromProviders(tp, mp)
}

func newFromProviders(tp trace.TracerProvider, mp metric.MeterProvider) *OTelRecorder {
	meter := mp.Meter(instrumentationName)
	duration, _ := meter.Float64Histogram("plugkit.method.duration",
		metric.WithDescription("Duration of recorded method calls"),
		metric.WithUnit("ms"))
	return &OTelRecorder{
		tracer:   tp.Tracer(instrumentationName),
		meter:    meter,
		counters: make(map[string]metric.Float64Counter),
		duration: duration,
	}
}

func newResource(serviceName, serviceVersion, environment string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("environment", environment),
		),
	)
}

type enterKey struct{}

type enterMark struct {
	at        time.Time
	component string
	method    string
}

// EnterMethod starts a span for component.method.
func (r *OTelRecorder) EnterMethod(ctx context.Context, component, method string) context.Context {
	ctx, _ = r.tracer.Start(ctx, component+"."+method,
		trace.WithAttributes(
			attribute.String("plugkit.component", component),
			attribute.String("plugkit.method", method),
		))
	return context.WithValue(ctx, enterKey{}, enterMark{at: time.Now(), component: component, method: method})
}

// ExitMethod ends the span started by EnterMethod and records its duration.
func (r *OTelRecorder) ExitMethod(ctx context.Context, component, method string, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if mark, ok := ctx.Value(enterKey{}).(enterMark); ok {
		r.duration.Record(ctx, float64(time.Since(mark.at).Milliseconds()),
			metric.WithAttributes(
				attribute.String("plugkit.component", component),
				attribute.String("plugkit.method", method),
				attribute.Bool("plugkit.error", err != nil),
			))
	}
}

// RecordException records a failure on the active span.
func (r *OTelRecorder) RecordException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
	r.count(ctx, "plugkit.exceptions", 1, map[string]string{})
}

// RecordMetric records a named measurement as a counter.
func (r *OTelRecorder) RecordMetric(ctx context.Context, name string, value float64, attrs map[string]string) {
	r.count(ctx, name, value, attrs)
}

// StartOperation opens a named span; the returned function ends it.
func (r *OTelRecorder) StartOperation(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := r.tracer.Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Shutdown flushes and stops the recorder's providers.
func (r *OTelRecorder) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, stop := range r.shutdowns {
		if err := stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *OTelRecorder) count(ctx context.Context, name string, value float64, attrs map[string]string) {
	r.mu.Lock()
	counter, ok := r.counters[name]
	if !ok {
		var err error
		counter, err = r.meter.Float64Counter(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		r.counters[name] = counter
	}
	r.mu.Unlock()

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	counter.Add(ctx, value, metric.WithAttributes(kvs...))
}
