package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/querycache/query"
)

func newTestMetrics(t *testing.T) (Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordFetch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	meta := MetaFor(query.MustCanonical(query.Key{"users"}))

	m.RecordFetch(ctx, meta, 5*time.Millisecond, nil)
	m.RecordFetch(ctx, meta, 7*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumOf(t, rm, "query.fetch.total"); got != 2 {
		t.Errorf("query.fetch.total: expected 2, got %d", got)
	}
	if got := sumOf(t, rm, "query.fetch.errors"); got != 1 {
		t.Errorf("query.fetch.errors: expected 1, got %d", got)
	}

	hist := findMetric(rm, "query.fetch.duration_ms")
	if hist == nil {
		t.Fatal("query.fetch.duration_ms not recorded")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", hist.Data)
	}
	if len(h.DataPoints) != 1 || h.DataPoints[0].Count != 2 {
		t.Fatalf("expected one data point with count 2, got %+v", h.DataPoints)
	}
	if h.DataPoints[0].Sum != 12 {
		t.Errorf("expected duration sum 12ms, got %v", h.DataPoints[0].Sum)
	}
}

func TestMetrics_ScopeAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordFetch(context.Background(), MetaFor(query.MustCanonical(query.Key{"posts", 3})), 0, nil)

	sum := findMetric(collect(t, reader), "query.fetch.total").Data.(metricdata.Sum[int64])
	attrs := sum.DataPoints[0].Attributes
	if v, ok := attrs.Value(attribute.Key("query.scope")); !ok || v.AsString() != "posts" {
		t.Errorf("expected query.scope=posts, got %v", v.Emit())
	}
	if _, ok := attrs.Value(attribute.Key("query.key")); ok {
		t.Error("full key must not be a metric attribute")
	}
}

func TestMetrics_InvalidateAndCallbackFailures(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInvalidate(ctx, MetaFor(query.DefaultKey))
	m.RecordInvalidate(ctx, MetaFor(query.DefaultKey))
	m.RecordCallbackFailure(ctx, query.StageSubscriber)

	rm := collect(t, reader)
	if got := sumOf(t, rm, "query.invalidate.total"); got != 2 {
		t.Errorf("query.invalidate.total: expected 2, got %d", got)
	}
	if got := sumOf(t, rm, "query.callback.failures"); got != 1 {
		t.Errorf("query.callback.failures: expected 1, got %d", got)
	}
}

func TestMetrics_NilMeter(t *testing.T) {
	m, err := NewMetrics(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordFetch(context.Background(), QueryMeta{}, time.Second, errors.New("x"))
	m.RecordInvalidate(context.Background(), QueryMeta{})
}
