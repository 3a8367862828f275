// Package observability provides OpenTelemetry-based tracing and metrics
// for the persistence engine.
//
// It follows the RED pattern (Rate, Errors, Duration) plus a bytes-moved
// counter, and exposes a TrackOperation helper that wraps a span and the
// RED metrics around a single storage or engine operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "agentsnap.persist-core"

// Config configures the OpenTelemetry providers owned by a Provider.
//
// There is no OTLP exporter wiring here. With Enabled set, New builds its
// own SDK tracer and meter providers from a resource and a sampler only,
// with no exporter or metric reader attached, and does not expose them, so
// spans and metrics recorded through that Provider stay in the process.
// With Enabled unset, the Provider uses otel's global tracer and meter
// providers, which a host process installs with otel.SetTracerProvider and
// otel.SetMeterProvider (no-op until it does). This package never installs
// global providers itself.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64 // 0.0 to 1.0, default 1.0 (sample all)
	Enabled        bool
}

// DefaultConfig returns defaults suitable for a standalone engine instance.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "persist-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SampleRate:     1.0,
		Enabled:        true,
	}
}

// Provider owns the tracer, meter, and RED instruments used by every
// storage adapter and by the engine itself.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	opsCounter     metric.Int64Counter
	errorsCounter  metric.Int64Counter
	retriesCounter metric.Int64Counter
	bytesCounter   metric.Int64Counter
	latencyHist    metric.Float64Histogram
}

// New builds a Provider. When config is nil, DefaultConfig is used. When
// config.Enabled is false, the Provider still works but every instrument
// and span comes from otel's global providers, which are no-op (the cost
// of an interface call) unless the host process has installed its own.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		if err := p.initInstruments(); err != nil {
			return nil, fmt.Errorf("init instruments: %w", err)
		}
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironmentName(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
	)

	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"sample_rate", config.SampleRate,
	)

	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.opsCounter, err = p.meter.Int64Counter("persist.ops.total",
		metric.WithDescription("Total number of engine/storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.errorsCounter, err = p.meter.Int64Counter("persist.errors.total",
		metric.WithDescription("Total number of failed operations, by error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.retriesCounter, err = p.meter.Int64Counter("persist.retries.total",
		metric.WithDescription("Total number of retry attempts issued by the retry coordinator"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return err
	}

	p.bytesCounter, err = p.meter.Int64Counter("persist.bytes.total",
		metric.WithDescription("Bytes moved to or from a storage backend"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	p.latencyHist, err = p.meter.Float64Histogram("persist.latency.seconds",
		metric.WithDescription("Operation latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown flushes and releases any SDK providers this Provider created.
// It is a no-op when the Provider was built with Config.Enabled == false.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shut down tracer provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shut down meter provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the tracer used for engine and storage spans.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the meter used for RED instruments.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a span under the Provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordOp increments the operation counter.
func (p *Provider) RecordOp(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.opsCounter != nil {
		p.opsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordError increments the error counter. The caller is expected to
// include an AttrErrorKind attribute classifying the failure.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.errorsCounter != nil {
		p.errorsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRetry increments the retry counter once per retry attempt.
func (p *Provider) RecordRetry(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.retriesCounter != nil {
		p.retriesCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordBytes adds n to the bytes-moved counter. Callers pass
// AttrDirection(DirectionRead|DirectionWrite) among attrs.
func (p *Provider) RecordBytes(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if p.bytesCounter != nil && n > 0 {
		p.bytesCounter.Add(ctx, n, metric.WithAttributes(attrs...))
	}
}

// RecordDuration records an operation's wall-clock duration.
func (p *Provider) RecordDuration(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	if p.latencyHist != nil {
		p.latencyHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackOperation starts a span and records the op/latency/error RED
// metrics for a single engine or storage operation. The returned func
// must be called exactly once with the operation's outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	p.RecordOp(ctx, attrs...)

	return ctx, func(err error) {
		p.RecordDuration(ctx, time.Since(start), attrs...)

		if err != nil {
			span.RecordError(err)
			errAttrs := append(append([]attribute.KeyValue{}, attrs...), AttrErrorKind.String(errorKindString(err)))
			p.RecordError(ctx, err, errAttrs...)
		}

		span.End()
	}
}
