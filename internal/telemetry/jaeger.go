package telemetry

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

/*
LEARNING: TRACING A LONG-LIVED CLIENT

A collaboration client is not request/response shaped: one session lives for
minutes or hours. Spans are therefore opened around the discrete steps of a
session (acquisition, metadata refresh, token validation, teardown) rather
than around the session as a whole, so traces are flushed while it is running.

  Controller → OpenTelemetry SDK → Jaeger Exporter → Jaeger Collector → Jaeger UI
*/

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

// InitJaeger initializes Jaeger tracing exporter.
// An empty endpoint leaves the global no-op provider in place.
func InitJaeger(serviceName, jaegerEndpoint string) (ShutdownFunc, error) {
	if jaegerEndpoint == "" {
		glog.V(1).Infof("tracing disabled (no JAEGER_ENDPOINT)")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)

	glog.Infof("✓ Jaeger tracing initialized: %s", jaegerEndpoint)

	return tp.Shutdown, nil
}
