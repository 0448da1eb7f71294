// Package telemetry wires OpenTelemetry tracing and metrics for the service and
// exposes the instruments recorded by the synthesis and combine pipeline.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/config"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName scopes the service's meters and tracers.
const InstrumentationName = "github.com/book-expert/tts-session-service"

// Instrument names.
const (
	metricSegments        = "tts.segments.synthesized"
	metricProviderErrors  = "tts.provider.errors"
	metricSessionsCombine = "tts.sessions.combined"
	metricCleanupDeleted  = "tts.cleanup.files_deleted"
	metricCombineDuration = "tts.combine.duration_ms"
	metricLockedSessions  = "tts.sessions.locked"
)

// Attribute keys.
const (
	AttrProvider = attribute.Key("tts.provider")
	AttrKind     = attribute.Key("tts.error_kind")
	AttrSession  = attribute.Key("tts.session")
)

const (
	logFmtExporter      = "Telemetry initialized with %s trace exporter"
	logFmtPromFallback  = "Failed to initialize prometheus exporter, metrics disabled: %v"
	errFmtResource      = "failed to build telemetry resource: %w"
	errFmtTraceExporter = "failed to create trace exporter: %w"
	errFmtInstrument    = "failed to create instrument %s: %w"
)

// Setup installs global tracer and meter providers according to cfg. It
// returns a shutdown func and the Prometheus scrape handler (nil when the
// exporter could not be created).
func Setup(ctx context.Context, cfg config.TelemetryConfig, log *logger.Logger) (func(context.Context) error, http.Handler, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf(errFmtResource, err)
	}

	traceProvider, traceErr := newTracerProvider(ctx, cfg, res, log)
	if traceErr != nil {
		return nil, nil, traceErr
	}

	otel.SetTracerProvider(traceProvider)

	meterProvider, handler := newMeterProvider(res, log)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx))
	}

	return shutdown, handler, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, log *logger.Logger) (*sdktrace.TracerProvider, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf(errFmtTraceExporter, err)
		}

		log.System(logFmtExporter, "otlp")

		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	}

	if cfg.StdoutTraces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf(errFmtTraceExporter, err)
		}

		log.System(logFmtExporter, "stdout")

		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	}

	return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
}

// newMeterProvider registers the Prometheus exporter on a private registry so
// repeated setups do not collide on the default registerer.
func newMeterProvider(res *resource.Resource, log *logger.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		log.Warn(logFmtPromFallback, err)

		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	return provider, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Instruments bundles the tracer and metrics recorded by the pipeline.
type Instruments struct {
	tracer          trace.Tracer
	meter           metric.Meter
	segments        metric.Int64Counter
	providerErrors  metric.Int64Counter
	sessionsCombine metric.Int64Counter
	cleanupDeleted  metric.Int64Counter
	combineDuration metric.Int64Histogram
}

// New creates instruments from the global providers installed by Setup.
func New() (*Instruments, error) {
	return NewWith(otel.Meter(InstrumentationName), otel.Tracer(InstrumentationName))
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	instruments, err := NewWith(
		metricnoop.NewMeterProvider().Meter(InstrumentationName),
		tracenoop.NewTracerProvider().Tracer(InstrumentationName),
	)
	if err != nil {
		panic(err)
	}

	return instruments
}

// NewWith creates instruments on an explicit meter and tracer.
func NewWith(meter metric.Meter, tracer trace.Tracer) (*Instruments, error) {
	segments, err := meter.Int64Counter(metricSegments,
		metric.WithDescription("Segments written to session directories"))
	if err != nil {
		return nil, fmt.Errorf(errFmtInstrument, metricSegments, err)
	}

	providerErrors, err := meter.Int64Counter(metricProviderErrors,
		metric.WithDescription("Provider failures by kind"))
	if err != nil {
		return nil, fmt.Errorf(errFmtInstrument, metricProviderErrors, err)
	}

	sessionsCombine, err := meter.Int64Counter(metricSessionsCombine,
		metric.WithDescription("Sessions combined into a single WAV"))
	if err != nil {
		return nil, fmt.Errorf(errFmtInstrument, metricSessionsCombine, err)
	}

	cleanupDeleted, err := meter.Int64Counter(metricCleanupDeleted,
		metric.WithDescription("Files removed by session cleanup and sweeps"))
	if err != nil {
		return nil, fmt.Errorf(errFmtInstrument, metricCleanupDeleted, err)
	}

	combineDuration, err := meter.Int64Histogram(metricCombineDuration,
		metric.WithDescription("Duration of combined session audio"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf(errFmtInstrument, metricCombineDuration, err)
	}

	return &Instruments{
		tracer:          tracer,
		meter:           meter,
		segments:        segments,
		providerErrors:  providerErrors,
		sessionsCombine: sessionsCombine,
		cleanupDeleted:  cleanupDeleted,
		combineDuration: combineDuration,
	}, nil
}

// ObserveLockedSessions registers a gauge reporting the number of sessions
// currently held or awaited by writers.
func (i *Instruments) ObserveLockedSessions(count func() int) error {
	_, err := i.meter.Int64ObservableGauge(metricLockedSessions,
		metric.WithDescription("Sessions currently locked by writers"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(count()))

			return nil
		}))
	if err != nil {
		return fmt.Errorf(errFmtInstrument, metricLockedSessions, err)
	}

	return nil
}

// Start opens a span named name.
func (i *Instruments) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SegmentSynthesized counts one persisted segment.
func (i *Instruments) SegmentSynthesized(ctx context.Context, provider string) {
	i.segments.Add(ctx, 1, metric.WithAttributes(AttrProvider.String(provider)))
}

// ProviderFailed counts one provider failure of kind.
func (i *Instruments) ProviderFailed(ctx context.Context, provider, kind string) {
	i.providerErrors.Add(ctx, 1, metric.WithAttributes(AttrProvider.String(provider), AttrKind.String(kind)))
}

// SessionCombined records one combined session and its audio duration.
func (i *Instruments) SessionCombined(ctx context.Context, durationMillis int64) {
	i.sessionsCombine.Add(ctx, 1)
	i.combineDuration.Record(ctx, durationMillis)
}

// FilesDeleted counts files removed by cleanup.
func (i *Instruments) FilesDeleted(ctx context.Context, count int) {
	if count > 0 {
		i.cleanupDeleted.Add(ctx, int64(count))
	}
}
