package common

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// noopSpan is returned while tracing is disabled so callers never branch on it.
type noopSpan struct{ trace.Span }

func (s noopSpan) End(...trace.SpanEndOption)              {}
func (s noopSpan) AddEvent(string, ...trace.EventOption)   {}
func (s noopSpan) IsRecording() bool                       { return false }
func (s noopSpan) SetStatus(codes.Code, string)            {}
func (s noopSpan) SetName(string)                          {}
func (s noopSpan) SetAttributes(...attribute.KeyValue)     {}
func (s noopSpan) RecordError(error, ...trace.EventOption) {}
func (s noopSpan) SpanContext() trace.SpanContext          { return trace.SpanContext{} }
func (s noopSpan) TracerProvider() trace.TracerProvider    { return nil }

var defaultNoopSpan = noopSpan{nil}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !IsTracingEnabled {
		return ctx, defaultNoopSpan
	}
	return tracer.Start(ctx, name, opts...)
}

// AnnotateSpan sets attributes on the span active in ctx, if it is recording.
func AnnotateSpan(ctx context.Context, attrs ...attribute.KeyValue) {
	if !IsTracingEnabled {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

func StartHTTPServerSpan(ctx context.Context, r *http.Request) (context.Context, trace.Span) {
	if !IsTracingEnabled {
		return ctx, defaultNoopSpan
	}
	ctx = propagation.TraceContext{}.Extract(ctx, propagation.HeaderCarrier(r.Header))
	return StartSpan(ctx, "Http.ReceivedRequest",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(r.Method),
			semconv.HTTPTargetKey.String(r.URL.Path),
			semconv.HTTPUserAgentKey.String(r.UserAgent()),
		),
	)
}

// InjectHTTPRequestTraceContext propagates the active trace to an outgoing backend request.
func InjectHTTPRequestTraceContext(ctx context.Context, r *http.Request) {
	if !IsTracingEnabled {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(r.Header))
}
