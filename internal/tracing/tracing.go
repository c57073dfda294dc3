// Package tracing wires up the OpenTelemetry tracer provider used by
// internal/fetch's outbound otelhttp transport. When no OTLP endpoint is
// configured, the global tracer provider is left at its default no-op, so
// every otel.Tracer call in the module stays free.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config configures Setup.
type Config struct {
	OTLPEndpoint string
	ServiceName  string
}

// Shutdown flushes and stops the tracer provider installed by Setup. It is
// a no-op when Setup installed nothing.
type Shutdown func(ctx context.Context) error

// Setup installs a batched OTLP/HTTP tracer provider as the global
// otel.TracerProvider when cfg.OTLPEndpoint is set. With no endpoint
// configured, it returns a no-op Shutdown and leaves the default provider
// in place.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: new otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(shutdownCtx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}
