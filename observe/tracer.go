package observe

import (
	"bytes"
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/querycache/query"
)

// Span operations.
const (
	OpFetch      = "fetch"
	OpInvalidate = "invalidate"
)

// QueryMeta describes a query for telemetry purposes.
type QueryMeta struct {
	Key     string // Canonical key
	Scope   string // First key element, used for low-cardinality naming
	FetchID uint64 // Zero outside a fetch
}

// MetaFor derives QueryMeta from a canonical key.
// The scope is the first element when it is a non-empty string, else "query".
// Keys should therefore start with a fixed string such as "users".
func MetaFor(canonicalKey string) QueryMeta {
	return QueryMeta{Key: canonicalKey, Scope: scopeOf(canonicalKey)}
}

func scopeOf(k string) string {
	if k == query.DefaultKey {
		return "default"
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(k)))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return "query"
	}
	tok, err := dec.Token()
	if err != nil {
		return "query"
	}
	// Only a string head names a scope; IDs never reach span names.
	if v, ok := tok.(string); ok && v != "" {
		return v
	}
	return "query"
}

// SpanName returns the deterministic span name for op on this query.
// Format: query.<op>.<scope>
func (m QueryMeta) SpanName(op string) string {
	return "query." + op + "." + m.Scope
}

func (m QueryMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("query.key", m.Key),
		attribute.String("query.scope", m.Scope),
	}
	if m.FetchID != 0 {
		attrs = append(attrs, attribute.Int64("query.fetch_id", int64(m.FetchID)))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with query-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for op on the query.
	StartSpan(ctx context.Context, op string, meta QueryMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return newNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, op string, meta QueryMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("query.error", false))
	return t.tracer.Start(ctx, meta.SpanName(op),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("query.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, op string, meta QueryMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName(op))
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
