package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/querycache/query"
)

// Metrics records query cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records one fetch with its duration and error status.
	RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error)

	// RecordInvalidate records one invalidation.
	RecordInvalidate(ctx context.Context, meta QueryMeta)

	// RecordCallbackFailure records a recovered hook or subscriber panic.
	RecordCallbackFailure(ctx context.Context, stage query.Stage)
}

type metricsImpl struct {
	fetchTotal    metric.Int64Counter
	fetchErrors   metric.Int64Counter
	fetchDuration metric.Float64Histogram
	invalidations metric.Int64Counter
	callbackFails metric.Int64Counter
}

// NewMetrics creates the query instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	if meter == nil {
		return &noopMetrics{}, nil
	}

	fetchTotal, err := meter.Int64Counter(
		"query.fetch.total",
		metric.WithDescription("Total number of query fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"query.fetch.errors",
		metric.WithDescription("Total number of failed query fetches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"query.fetch.duration_ms",
		metric.WithDescription("Query fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"query.invalidate.total",
		metric.WithDescription("Total number of query invalidations"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, err
	}

	callbackFails, err := meter.Int64Counter(
		"query.callback.failures",
		metric.WithDescription("Hook and subscriber panics recovered by the client"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		fetchTotal:    fetchTotal,
		fetchErrors:   fetchErrors,
		fetchDuration: fetchDuration,
		invalidations: invalidations,
		callbackFails: callbackFails,
	}, nil
}

// Only the scope is attached, never the full key.
func (m *metricsImpl) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("query.scope", meta.Scope))

	m.fetchTotal.Add(ctx, 1, opt)
	if err != nil {
		m.fetchErrors.Add(ctx, 1, opt)
	}
	m.fetchDuration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordInvalidate(ctx context.Context, meta QueryMeta) {
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("query.scope", meta.Scope)))
}

func (m *metricsImpl) RecordCallbackFailure(ctx context.Context, stage query.Stage) {
	m.callbackFails.Add(ctx, 1, metric.WithAttributes(attribute.String("query.stage", string(stage))))
}

type noopMetrics struct{}

func (m *noopMetrics) RecordFetch(context.Context, QueryMeta, time.Duration, error) {}
func (m *noopMetrics) RecordInvalidate(context.Context, QueryMeta)                   {}
func (m *noopMetrics) RecordCallbackFailure(context.Context, query.Stage)            {}
