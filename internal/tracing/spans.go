package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartExecutableSpan creates a span for one execution node's full
// lifecycle (dispatch through completion), keyed by its executable id —
// the unit the scheduler, manager, and cache all key their own logging
// and metrics on.
func StartExecutableSpan(ctx context.Context, executableID, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "executable."+kind,
		trace.WithAttributes(
			attribute.String("executable.id", executableID),
			attribute.String("executable.kind", kind),
		),
	)
}

// StartActionSpan creates a child span for a single JobAction step within
// an executable's action chain.
func StartActionSpan(ctx context.Context, executableID string, index int, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "action."+kind,
		trace.WithAttributes(
			attribute.String("executable.id", executableID),
			attribute.Int("action.index", index),
			attribute.String("action.kind", kind),
		),
	)
}

// StartRemoteCacheSpan creates a child span for a remote cache tier call.
func StartRemoteCacheSpan(ctx context.Context, endpoint, op string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "remote_cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("remote_cache.endpoint", endpoint),
			attribute.String("remote_cache.op", op),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the remote cache service can
// continue the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetExecutableAttributes adds execution-node attributes to the current span.
func SetExecutableAttributes(ctx context.Context, fingerprint string, blocking bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("executable.fingerprint", fingerprint),
		attribute.Bool("executable.blocking", blocking),
	)
}

// SetResultAttributes adds outcome attributes to the current span.
func SetResultAttributes(ctx context.Context, cacheHit bool, durationMillis int64) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Bool("result.cache_hit", cacheHit),
		attribute.Int64("result.duration_ms", durationMillis),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
