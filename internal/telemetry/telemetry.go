// =============================================================================
// OpenTelemetry SDK initialization
// =============================================================================
// Traces and metrics export over OTLP gRPC. When telemetry is disabled no
// exporter is created and the global providers stay noop, so spans started
// through Tracer are free.
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

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
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/config"
)

// InstrumentationName scopes every tracer and meter of the service.
const InstrumentationName = "github.com/BaSui01/searchflow"

// Providers holds the SDK providers; both are nil when telemetry is disabled.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init installs global OTLP providers when cfg.Enabled.
func Init(cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	ctx := context.Background()
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "searchflow"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(buildVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", serviceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)

	return &Providers{tp: tp, mp: mp}, nil
}

// Shutdown flushes and closes exporters. Safe on nil and noop Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Span helpers
// =============================================================================

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span named name with attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// =============================================================================
// Metric instruments
// =============================================================================

// Instruments are the OTLP counterparts of the Prometheus search metrics.
type Instruments struct {
	SearchDuration metric.Float64Histogram
	SearchResults  metric.Int64Histogram
	Degraded       metric.Int64Counter
}

// NewInstruments creates instruments on the global meter provider.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(InstrumentationName)

	duration, err := meter.Float64Histogram("searchflow.search.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("End-to-end search latency"))
	if err != nil {
		return nil, fmt.Errorf("create search duration histogram: %w", err)
	}
	results, err := meter.Int64Histogram("searchflow.search.results",
		metric.WithDescription("Results returned per search"))
	if err != nil {
		return nil, fmt.Errorf("create results histogram: %w", err)
	}
	degraded, err := meter.Int64Counter("searchflow.search.degraded",
		metric.WithDescription("Searches served with a failed retriever or judge"))
	if err != nil {
		return nil, fmt.Errorf("create degraded counter: %w", err)
	}

	return &Instruments{SearchDuration: duration, SearchResults: results, Degraded: degraded}, nil
}

// RecordSearch records one search; a nil receiver is a no-op.
func (i *Instruments) RecordSearch(ctx context.Context, durationMs float64, results int, degraded bool, accessLevel string) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("access_level", accessLevel))
	i.SearchDuration.Record(ctx, durationMs, attrs)
	i.SearchResults.Record(ctx, int64(results), attrs)
	if degraded {
		i.Degraded.Add(ctx, 1, attrs)
	}
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
