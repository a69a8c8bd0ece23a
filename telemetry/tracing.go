package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"feedscroll/config"
	"feedscroll/oops"
)

type ShutdownFunc func(ctx context.Context) error

// SetupTracing installs a global tracer provider exporting to the OTLP endpoint. Without an
// endpoint the global no-op provider stays in place.
func SetupTracing(ctx context.Context, cfg config.Telemetry) (ShutdownFunc, error) {
	if cfg.OtlpEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(
		ctx, otlptracehttp.WithEndpoint(cfg.OtlpEndpoint), otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, oops.Wrapf(err, "creating otlp exporter for %s", cfg.OtlpEndpoint)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, oops.Wrap(err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tracerProvider.Shutdown, nil
}
