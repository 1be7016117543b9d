// Package trace carries W3C Trace Context as a small struct with header
// helpers, plus TraceID, which the engine service installs through
// checkpoint.WithTraceIDFunc to stamp trace IDs onto checkpoints. The
// httpqueue and temporalqueue backends do not use this package. Grounded on
// runtime/toolregistry/trace_context.go's Inject/Extract pair, generalized
// from a pair of return values to a small struct plus header helpers so
// callers that need to thread it through a job payload (queue.Job has no
// header map) have something to marshal.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Context is the propagated trace identity for one execution segment.
type Context struct {
	TraceParent string `json:"trace_parent,omitempty"`
	TraceState  string `json:"trace_state,omitempty"`
	Baggage     string `json:"baggage,omitempty"`
	// CorrelationID is an engine-local identifier (not part of W3C Trace
	// Context) threaded alongside it so logs can be grep'd by execution
	// even when tracing is disabled.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// FromContext extracts the active trace context out of ctx.
func FromContext(ctx context.Context, correlationID string) Context {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return Context{
		TraceParent:   carrier["traceparent"],
		TraceState:    carrier["tracestate"],
		Baggage:       carrier["baggage"],
		CorrelationID: correlationID,
	}
}

// WithContext returns a context carrying tc's W3C Trace Context, for a
// worker resuming a segment from a queued job.
func WithContext(ctx context.Context, tc Context) context.Context {
	if tc.TraceParent == "" && tc.TraceState == "" && tc.Baggage == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	if tc.TraceParent != "" {
		carrier["traceparent"] = tc.TraceParent
	}
	if tc.TraceState != "" {
		carrier["tracestate"] = tc.TraceState
	}
	if tc.Baggage != "" {
		carrier["baggage"] = tc.Baggage
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// ToHeaders renders tc as HTTP header values for an outbound httpqueue
// continuation request.
func ToHeaders(tc Context) map[string]string {
	headers := map[string]string{}
	if tc.TraceParent != "" {
		headers["traceparent"] = tc.TraceParent
	}
	if tc.TraceState != "" {
		headers["tracestate"] = tc.TraceState
	}
	if tc.Baggage != "" {
		headers["baggage"] = tc.Baggage
	}
	if tc.CorrelationID != "" {
		headers["x-correlation-id"] = tc.CorrelationID
	}
	return headers
}

// FromHeaders reconstructs a Context from inbound HTTP headers.
func FromHeaders(get func(key string) string) Context {
	return Context{
		TraceParent:   get("traceparent"),
		TraceState:    get("tracestate"),
		Baggage:       get("baggage"),
		CorrelationID: get("x-correlation-id"),
	}
}

// TraceID returns the active span's trace ID as a hex string, or "" if ctx
// carries no valid span context. Suitable for checkpoint.WithTraceIDFunc.
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
