// Package tracing provides OpenTelemetry tracing for sync sessions.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for the feedsync application.
var tracer = otel.Tracer("feedsync")

// GetTracer returns the global tracer for creating spans.
func GetTracer() trace.Tracer {
	return tracer
}

// Setup installs a tracer provider and returns a shutdown function. Without
// an exporter configured the provider keeps span context propagation working
// while dropping span data, which is the right default for a client process.
func Setup() func(context.Context) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
