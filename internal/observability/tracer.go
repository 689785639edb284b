// Package observability wires the otel tracing and Prometheus metrics
// surfaces every other component reaches into (C3's tool dispatcher
// already pulls its tracer straight off the ambient span, grounded on
// pkg/observability/tracer.go and pkg/tools/registry.go).
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// SetTracerProvider installs tp as the process-wide default, mirroring
// InitGlobalTracer's otel.SetTracerProvider call. A caller with a concrete
// SDK tracer provider can pass it here during startup; cmd/ken does not
// call it, so the runtime and its tests use otel's built-in no-op
// provider.
func SetTracerProvider(tp trace.TracerProvider) {
	otel.SetTracerProvider(tp)
}

// Tracer returns a named tracer off the current global provider, the same
// accessor GetTracer exposes.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
