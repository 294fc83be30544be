package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/querycache/query"
)

// Plugin instruments a query.Client.
//
// Contract:
// - Concurrency: one Plugin may be installed on several clients at once.
// - Ownership: spans opened by OnQueryStart are closed by the matching
//   OnQuerySuccess or OnQueryError, correlated by query.FetchID.
// - Errors: instrumentation never fails a fetch.
type Plugin struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger

	inflight sync.Map // fetch ID -> *fetchState
}

type fetchState struct {
	span  trace.Span
	start time.Time
	meta  QueryMeta
}

// NewPlugin creates a Plugin. Nil arguments fall back to no-ops.
func NewPlugin(tracer Tracer, metrics Metrics, logger Logger) *Plugin {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = &noopMetrics{}
	}
	if logger == nil {
		logger = &noopLogger{}
	}
	return &Plugin{tracer: tracer, metrics: metrics, logger: logger}
}

// PluginFromObserver builds a Plugin from an observer's primitives.
func PluginFromObserver(obs Observer) (*Plugin, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	m, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewPlugin(NewTracer(obs.Tracer()), m, obs.Logger()), nil
}

// Install returns the hooks for c. It satisfies query.Plugin.
func (p *Plugin) Install(*query.Client) *query.Hooks {
	return &query.Hooks{
		OnQueryStart:   p.onStart,
		OnQuerySuccess: p.onSuccess,
		OnQueryError:   p.onError,
		OnInvalidate:   p.onInvalidate,
	}
}

// FailureHandler logs and counts callback failures. Pass it to
// query.WithFailureHandler.
func (p *Plugin) FailureHandler() query.FailureHandler {
	return func(ctx context.Context, err *query.CallbackError) {
		p.metrics.RecordCallbackFailure(ctx, err.Stage)
		p.logger.WithQuery(MetaFor(err.Key)).Error(ctx, "query callback panicked",
			F("stage", string(err.Stage)),
			F("index", err.Index),
			F("panic", err.Value),
		)
	}
}

func (p *Plugin) onStart(ctx context.Context, key string) {
	meta := MetaFor(key)
	meta.FetchID = query.FetchID(ctx)

	spanCtx, span := p.tracer.StartSpan(ctx, OpFetch, meta)
	p.inflight.Store(meta.FetchID, &fetchState{span: span, start: time.Now(), meta: meta})
	p.logger.WithQuery(meta).Debug(spanCtx, "query fetch started")
}

func (p *Plugin) onSuccess(ctx context.Context, key string, _ any) {
	p.finish(ctx, key, nil)
}

func (p *Plugin) onError(ctx context.Context, key string, err error) {
	p.finish(ctx, key, err)
}

func (p *Plugin) finish(ctx context.Context, key string, err error) {
	v, ok := p.inflight.LoadAndDelete(query.FetchID(ctx))
	if !ok {
		// Installed mid-fetch; there is no start to pair with.
		meta := MetaFor(key)
		meta.FetchID = query.FetchID(ctx)
		p.metrics.RecordFetch(ctx, meta, 0, err)
		return
	}
	st := v.(*fetchState)
	elapsed := time.Since(st.start)

	spanCtx := trace.ContextWithSpan(ctx, st.span)
	log := p.logger.WithQuery(st.meta)
	if err != nil {
		log.Warn(spanCtx, "query fetch failed", F("error", err), F("duration_ms", elapsed.Milliseconds()))
	} else {
		log.Debug(spanCtx, "query fetch succeeded", F("duration_ms", elapsed.Milliseconds()))
	}

	p.metrics.RecordFetch(ctx, st.meta, elapsed, err)
	p.tracer.EndSpan(st.span, err)
}

func (p *Plugin) onInvalidate(ctx context.Context, key string) {
	meta := MetaFor(key)
	spanCtx, span := p.tracer.StartSpan(ctx, OpInvalidate, meta)
	p.metrics.RecordInvalidate(ctx, meta)
	p.logger.WithQuery(meta).Debug(spanCtx, "query invalidated")
	p.tracer.EndSpan(span, nil)
}
