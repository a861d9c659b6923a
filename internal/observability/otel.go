package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/logitest/attempt-service/internal/config"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

// InitTracing installs the global tracer provider and propagators.
// When tracing is disabled the otel no-op provider stays in place and the
// returned shutdown does nothing.
func InitTracing(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ShutdownFunc, error) {
	if !cfg.OTelEnabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		log.Warn().Err(err).Msg("OTel resource init failed (continuing)")
	}

	exporter, err := buildExporter(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.OTelSampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTelEndpoint).
		Float64("sample_ratio", cfg.OTelSampleRatio).
		Msg("OTel tracing initialized")

	return tp.Shutdown, nil
}

func buildExporter(ctx context.Context, cfg *config.Config, log zerolog.Logger) (sdktrace.SpanExporter, error) {
	if cfg.OTelEndpoint == "" {
		log.Warn().Msg("OTel using stdout exporter (no OTLP endpoint configured)")
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTelEndpoint)}
	if cfg.OTelInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.OTelHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.OTelHeaders))
	}
	return otlptracehttp.New(ctx, opts...)
}
