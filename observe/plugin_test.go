package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jonwraymond/querycache/query"
)

type pluginHarness struct {
	client *query.Client
	plugin *Plugin
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *bytes.Buffer
}

func newPluginHarness(t *testing.T, opts ...query.Option) *pluginHarness {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	metrics, reader := newTestMetrics(t)
	logs := &bytes.Buffer{}

	p := NewPlugin(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", logs))
	opts = append(opts, query.WithPlugins(p.Install), query.WithFailureHandler(p.FailureHandler()))

	return &pluginHarness{
		client: query.New(opts...),
		plugin: p,
		spans:  sr,
		reader: reader,
		logs:   logs,
	}
}

func TestPlugin_FetchSuccess(t *testing.T) {
	h := newPluginHarness(t)
	ctx := context.Background()

	_, err := h.client.Ensure(ctx, query.Key{"users", 1}, func(context.Context) (any, error) {
		return "Al", nil
	})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	spans := h.spans.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "query.fetch.users" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", spans[0].Status().Code)
	}

	rm := collect(t, h.reader)
	if got := sumOf(t, rm, "query.fetch.total"); got != 1 {
		t.Errorf("query.fetch.total: expected 1, got %d", got)
	}
	if got := sumOf(t, rm, "query.fetch.errors"); got != 0 {
		t.Errorf("query.fetch.errors: expected 0, got %d", got)
	}

	// A cache hit does not fetch.
	if _, err := h.client.Ensure(ctx, query.Key{"users", 1}, nil); err != nil {
		t.Fatalf("cached Ensure failed: %v", err)
	}
	if len(h.spans.Ended()) != 1 {
		t.Error("cache hit must not start a span")
	}

	if !strings.Contains(h.logs.String(), "query fetch succeeded") {
		t.Errorf("expected a success log line, got %s", h.logs.String())
	}
	if strings.Contains(h.logs.String(), "Al") {
		t.Error("fetched values must not be logged")
	}
}

func TestPlugin_FetchError(t *testing.T) {
	h := newPluginHarness(t)
	boom := errors.New("backend down")

	_, err := h.client.Fetch(context.Background(), query.Key{"posts"}, func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error to pass through, got %v", err)
	}

	s := h.spans.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("expected Error status, got %v", s.Status().Code)
	}

	rm := collect(t, h.reader)
	if got := sumOf(t, rm, "query.fetch.errors"); got != 1 {
		t.Errorf("query.fetch.errors: expected 1, got %d", got)
	}
	if !strings.Contains(h.logs.String(), "backend down") {
		t.Error("expected the fetch error in the logs")
	}
}

func TestPlugin_Invalidate(t *testing.T) {
	h := newPluginHarness(t)
	ctx := context.Background()

	if err := h.client.Invalidate(ctx, query.Key{"users"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	spans := h.spans.Ended()
	if len(spans) != 1 || spans[0].Name() != "query.invalidate.users" {
		t.Fatalf("expected one invalidate span, got %d", len(spans))
	}
	if got := sumOf(t, collect(t, h.reader), "query.invalidate.total"); got != 1 {
		t.Errorf("query.invalidate.total: expected 1, got %d", got)
	}
}

func TestPlugin_ConcurrentFetchesPairSpans(t *testing.T) {
	h := newPluginHarness(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = h.client.Fetch(ctx, query.Key{"item", i}, func(context.Context) (any, error) {
				if i%2 == 0 {
					return nil, errors.New("even")
				}
				return i, nil
			})
		}(i)
	}
	wg.Wait()

	if got := len(h.spans.Ended()); got != n {
		t.Fatalf("expected %d ended spans, got %d", n, got)
	}

	var leaked int
	h.plugin.inflight.Range(func(any, any) bool {
		leaked++
		return true
	})
	if leaked != 0 {
		t.Errorf("expected no in-flight state, found %d", leaked)
	}

	rm := collect(t, h.reader)
	if got := sumOf(t, rm, "query.fetch.total"); got != n {
		t.Errorf("query.fetch.total: expected %d, got %d", n, got)
	}
	if got := sumOf(t, rm, "query.fetch.errors"); got != n/2 {
		t.Errorf("query.fetch.errors: expected %d, got %d", n/2, got)
	}
}

func TestPlugin_FailureHandler(t *testing.T) {
	h := newPluginHarness(t)
	ctx := context.Background()

	sub := query.NewSubscriber(func() { panic("render failed") })
	if err := h.client.Subscribe(query.Key{"users"}, sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	err := h.client.Invalidate(ctx, query.Key{"users"})
	var cbErr *query.CallbackError
	if !errors.As(err, &cbErr) {
		t.Fatalf("expected a CallbackError, got %v", err)
	}

	if got := sumOf(t, collect(t, h.reader), "query.callback.failures"); got != 1 {
		t.Errorf("query.callback.failures: expected 1, got %d", got)
	}
	if !strings.Contains(h.logs.String(), "render failed") {
		t.Error("expected the panic value in the logs")
	}
}

func TestPluginFromObserver_Nil(t *testing.T) {
	if _, err := PluginFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Fatalf("expected ErrNilObserver, got %v", err)
	}
}

func TestNewPlugin_NilPrimitives(t *testing.T) {
	c := query.New(query.WithPlugins(NewPlugin(nil, nil, nil).Install))
	if _, err := c.Ensure(context.Background(), query.Key{"x"}, func(context.Context) (any, error) {
		return 1, nil
	}); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
}
