// Package telemetry exports the service's OpenTelemetry spans over OTLP.
//
// Tracing is off unless OTEL_ENABLED=true. Everything else is configured
// with the standard variables:
//
//	OTEL_SERVICE_NAME             service name (default crash-analyzer)
//	OTEL_EXPORTER_OTLP_PROTOCOL   grpc or http/protobuf (default grpc)
//	OTEL_EXPORTER_OTLP_ENDPOINT   collector endpoint
//	OTEL_EXPORTER_OTLP_HEADERS    exporter headers, e.g. Authorization
//	OTEL_EXPORTER_OTLP_INSECURE   plaintext gRPC
//	OTEL_TRACES_SAMPLER[_ARG]     sampler (default parentbased_always_on)
//	OTEL_RESOURCE_ATTRIBUTES      extra resource attributes
package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

var enabled atomic.Bool

// Init installs the global TracerProvider when cfg.Enabled. The returned
// function is never nil.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	res, err := newResource(cfg)
	if err != nil {
		return noopShutdown, err
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	enabled.Store(true)

	return func(ctx context.Context) error {
		enabled.Store(false)
		return tp.Shutdown(ctx)
	}, nil
}

// Enabled reports whether Init installed an exporting TracerProvider.
func Enabled() bool {
	return enabled.Load()
}
