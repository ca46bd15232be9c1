package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*
LEARNING: CLIENT-SIDE TRACING

The collaboration client talks to the document API (metadata, share tokens)
and to the realtime endpoint. Every outbound HTTP call gets a client span and
an X-Request-ID header so the server logs can be correlated with ours.

Key concepts:
- Trace: End-to-end flow of one session step
- Span: Single operation in a trace
- Context: Passes trace information between functions
*/

var tracer = otel.Tracer("doc-collab")

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

// TracingTransport wraps an http.RoundTripper with a client span per request
type TracingTransport struct {
	Base http.RoundTripper
}

// NewTracingTransport wraps base, or http.DefaultTransport when base is nil
func NewTracingTransport(base http.RoundTripper) *TracingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &TracingTransport{Base: base}
}

func (t *TracingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	requestID, ok := r.Context().Value(requestIDKey).(string)
	if !ok {
		requestID = ksuid.New().String()
	}

	ctx, span := tracer.Start(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.Path),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	ctx = context.WithValue(ctx, requestIDKey, requestID)

	// RoundTrippers must not mutate the caller's request
	out := r.Clone(ctx)
	out.Header.Set(RequestIDHeader, requestID)

	startTime := time.Now()
	resp, err := t.Base.RoundTrip(out)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		glog.V(2).Infof("[%s] %s %s - error %v (%dms)", requestID, r.Method, r.URL.Path, err, duration.Milliseconds())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int64("http.response_time_ms", duration.Milliseconds()),
	)
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	glog.V(2).Infof("[%s] %s %s - %d (%dms)", requestID, r.Method, r.URL.Path, resp.StatusCode, duration.Milliseconds())

	return resp, nil
}

// StartSpan creates a new span from the given context
//
// Example:
//
//	func (c *Client) DoSomething(ctx context.Context) error {
//	    ctx, span := middleware.StartSpan(ctx, "Client.DoSomething")
//	    defer span.End()
//	    // ... do work ...
//	}
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddSpanError records an error in the current span
func AddSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds a named event to the current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// WithRequestID returns ctx carrying a request ID, minting one if ctx has none.
// TracingTransport sends it as the X-Request-ID header.
func WithRequestID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestIDKey).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, ksuid.New().String())
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}
