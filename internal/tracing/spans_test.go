package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracerWithPropagator(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
	return exporter
}

func TestStartExecutableSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := StartExecutableSpan(context.Background(), "proj/art", "artifact_build")
	defer span.End()

	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected valid span in context")
	}

	span.End()
	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "executable.artifact_build" {
		t.Errorf("expected span name 'executable.artifact_build', got %q", spans[0].Name)
	}
}

func TestStartActionSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	_, span := StartActionSpan(context.Background(), "proj:lint", 0, "shell-command")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "action.shell-command" {
		t.Errorf("expected span name 'action.shell-command', got %q", spans[0].Name)
	}

	found := map[string]bool{}
	for _, attr := range spans[0].Attributes {
		found[string(attr.Key)] = true
	}
	if !found["executable.id"] {
		t.Error("expected executable.id attribute")
	}
	if !found["action.index"] {
		t.Error("expected action.index attribute")
	}
}

func TestStartRemoteCacheSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	_, span := StartRemoteCacheSpan(context.Background(), "https://cache.example.com", "push")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "remote_cache.push" {
		t.Errorf("expected span name 'remote_cache.push', got %q", spans[0].Name)
	}
	if spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("expected SpanKindClient, got %v", spans[0].SpanKind)
	}
}

func TestInjectHeaders(t *testing.T) {
	setupTestTracerWithPropagator(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	defer span.End()

	req := httptest.NewRequest("POST", "/push", nil)
	InjectHeaders(ctx, req)

	tp2 := req.Header.Get("traceparent")
	if tp2 == "" {
		t.Error("expected traceparent header to be injected")
	}
}

func TestSetExecutableAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := Tracer().Start(context.Background(), "test")
	SetExecutableAttributes(ctx, "abc123", true)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}

	if attrs["executable.fingerprint"] != "abc123" {
		t.Errorf("expected executable.fingerprint 'abc123', got %v", attrs["executable.fingerprint"])
	}
	if attrs["executable.blocking"] != true {
		t.Errorf("expected executable.blocking true, got %v", attrs["executable.blocking"])
	}
}

func TestSetResultAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := Tracer().Start(context.Background(), "test")
	SetResultAttributes(ctx, true, 42)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}

	if attrs["result.cache_hit"] != true {
		t.Errorf("expected result.cache_hit true, got %v", attrs["result.cache_hit"])
	}
	if attrs["result.duration_ms"] != int64(42) {
		t.Errorf("expected result.duration_ms 42, got %v", attrs["result.duration_ms"])
	}
}

func TestRecordError_NilDoesNotPanic(t *testing.T) {
	RecordError(context.Background(), nil)
}

func TestRecordError_RecordsOnSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := Tracer().Start(context.Background(), "test")
	RecordError(ctx, errors.New("test error"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	if len(spans[0].Events) == 0 {
		t.Error("expected error event on span")
	}
}

func TestInjectHeaders_WithHTTPRequest(t *testing.T) {
	setupTestTracerWithPropagator(t)

	ctx, span := Tracer().Start(context.Background(), "parent")
	defer span.End()

	req, _ := http.NewRequest("POST", "https://cache.example.com/push", nil)
	InjectHeaders(ctx, req)

	traceparent := req.Header.Get("traceparent")
	if traceparent == "" {
		t.Fatal("expected traceparent header")
	}

	parentTraceID := span.SpanContext().TraceID().String()
	if len(traceparent) < 55 {
		t.Fatalf("traceparent too short: %s", traceparent)
	}
	extractedTraceID := traceparent[3:35]
	if extractedTraceID != parentTraceID {
		t.Errorf("expected trace ID %s in traceparent, got %s", parentTraceID, extractedTraceID)
	}
}
