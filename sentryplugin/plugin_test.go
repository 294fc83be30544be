package sentryplugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/querycache/query"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) all() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func newTestHub(t *testing.T) (*sentry.Hub, *captured) {
	t.Helper()
	got := &captured{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			got.mu.Lock()
			got.events = append(got.events, event)
			got.mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), got
}

func TestNew_NilHub(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrNilHub)
}

func TestPlugin_ReportsFetchError(t *testing.T) {
	hub, got := newTestHub(t)
	r, err := New(hub, Options{})
	require.NoError(t, err)

	c := query.New(query.WithPlugins(r.Plugin()))
	boom := errors.New("backend down")
	_, err = c.Fetch(context.Background(), query.Key{"users", 1}, func(context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	events := got.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, sentry.LevelError, ev.Level)
	assert.Equal(t, `["users",1]`, ev.Tags["query.key"])
	require.NotEmpty(t, ev.Exception)
	assert.Equal(t, "backend down", ev.Exception[len(ev.Exception)-1].Value)
	assert.Contains(t, ev.Contexts, "query")
}

func TestPlugin_SuccessNotReported(t *testing.T) {
	hub, got := newTestHub(t)
	r, err := New(hub, Options{})
	require.NoError(t, err)

	c := query.New(query.WithPlugins(r.Plugin()))
	_, err = c.Ensure(context.Background(), query.Key{"ok"}, func(context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)
	assert.Empty(t, got.all())
}

func TestPlugin_IgnoredErrors(t *testing.T) {
	hub, got := newTestHub(t)
	notFound := errors.New("not found")
	r, err := New(hub, Options{Ignore: func(err error) bool { return errors.Is(err, notFound) }})
	require.NoError(t, err)

	c := query.New(query.WithPlugins(r.Plugin()))
	ctx := context.Background()
	_, _ = c.Fetch(ctx, query.Key{"a"}, func(context.Context) (any, error) { return nil, notFound })
	_, _ = c.Fetch(ctx, query.Key{"b"}, func(context.Context) (any, error) { return nil, context.Canceled })
	assert.Empty(t, got.all())
}

func TestPlugin_TagsDoNotLeak(t *testing.T) {
	hub, got := newTestHub(t)
	r, err := New(hub, Options{})
	require.NoError(t, err)

	c := query.New(query.WithPlugins(r.Plugin()))
	_, _ = c.Fetch(context.Background(), query.Key{"a"}, func(context.Context) (any, error) {
		return nil, errors.New("x")
	})

	hub.CaptureMessage("unrelated")
	events := got.all()
	require.Len(t, events, 2)
	assert.NotContains(t, events[1].Tags, "query.key")
}

func TestFailureHandler_ReportsPanics(t *testing.T) {
	hub, got := newTestHub(t)
	r, err := New(hub, Options{})
	require.NoError(t, err)

	c := query.New(query.WithFailureHandler(r.FailureHandler()))
	require.NoError(t, c.Subscribe(query.Key{"users"}, query.NewSubscriber(func() { panic("render failed") })))

	err = c.Invalidate(context.Background(), query.Key{"users"})
	require.Error(t, err)

	events := got.all()
	require.Len(t, events, 1)
	assert.Equal(t, sentry.LevelFatal, events[0].Level)
	assert.Equal(t, string(query.StageSubscriber), events[0].Tags["query.stage"])
	assert.Equal(t, `["users"]`, events[0].Tags["query.key"])
	assert.True(t, r.Flush())
}

func TestPlugin_ConcurrentReportsKeepTheirTags(t *testing.T) {
	hub, got := newTestHub(t)
	r, err := New(hub, Options{})
	require.NoError(t, err)
	c := query.New(query.WithPlugins(r.Plugin()))

	const n = 200
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Fetch(context.Background(), query.Key{"k", i}, func(context.Context) (any, error) {
				return nil, fmt.Errorf("err-%d", i)
			})
		}(i)
	}
	wg.Wait()

	events := got.all()
	require.Len(t, events, n)
	for _, ev := range events {
		require.NotEmpty(t, ev.Exception)
		var i int
		_, err := fmt.Sscanf(ev.Exception[len(ev.Exception)-1].Value, "err-%d", &i)
		require.NoError(t, err)
		assert.Equal(t, query.MustCanonical(query.Key{"k", i}), ev.Tags["query.key"])
	}
}
