package query

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchFunc produces the value for a query. The core treats it as opaque.
type FetchFunc func(ctx context.Context) (any, error)

// Client is the query cache core. It owns the store, the remembered
// fetchers, the subscriber sets and the plugin hooks.
//
// Contract:
// - Concurrency: safe for concurrent use. No lock is held while a fetch
//   function, hook or subscriber runs.
// - Ownership: callers reach the registries only through Client methods.
// - Errors: fetch errors are returned unchanged; hook and subscriber
//   panics are isolated (see FailureHandler).
type Client struct {
	mu          sync.Mutex
	store       Store
	fetchers    map[string]FetchFunc
	subscribers map[string][]*Subscriber
	plugins     []*Hooks
	pending     []Plugin

	coalesce bool
	flight   singleflight.Group

	onFailure FailureHandler
}

// New creates a Client. Plugins passed via WithPlugins are registered
// after all other options are applied.
func New(opts ...Option) *Client {
	c := &Client{
		store:       NewMemoryStore(),
		fetchers:    make(map[string]FetchFunc),
		subscribers: make(map[string][]*Subscriber),
		onFailure:   func(context.Context, *CallbackError) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		c.RegisterPlugin(p)
	}
	return c
}

// Get returns the cached value for key. It never fetches.
func (c *Client) Get(key Key) (any, bool) {
	k, err := Canonical(key)
	if err != nil {
		return nil, false
	}
	return c.store.Get(k)
}

// Ensure returns the cached value for key, fetching it with fn on a miss.
// A hit invokes neither fn nor any hook.
func (c *Client) Ensure(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	k, err := Canonical(key)
	if err != nil {
		return nil, err
	}
	if v, ok := c.store.Get(k); ok {
		return v, nil
	}
	if !c.coalesce {
		return c.fetch(ctx, k, fn)
	}

	v, err, _ := c.flight.Do(k, func() (any, error) {
		// A fetch may have landed between the miss above and Do.
		if v, ok := c.store.Get(k); ok {
			return v, nil
		}
		return c.fetch(ctx, k, fn)
	})
	return v, err
}

// Fetch always invokes fn and overwrites the entry on success.
func (c *Client) Fetch(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	k, err := Canonical(key)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, k, fn)
}

// Refetch fetches key again with its remembered fetcher and then notifies
// the key's subscribers. It returns a *MissingFetcherError if key never
// completed a fetch.
func (c *Client) Refetch(ctx context.Context, key Key) (any, error) {
	k, err := Canonical(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	fn, ok := c.fetchers[k]
	c.mu.Unlock()
	if !ok {
		return nil, &MissingFetcherError{Key: k}
	}

	v, err := c.fetch(ctx, k, fn)
	if err != nil {
		return nil, err
	}
	c.notify(ctx, k)
	return v, nil
}

// Invalidate deletes the entry for key and runs the invalidate hooks.
// Unless WithoutRefetch is given, the key's subscribers are then notified
// in registration order before Invalidate returns.
//
// The returned error joins any *CallbackError recovered along the way.
func (c *Client) Invalidate(ctx context.Context, key Key, opts ...InvalidateOption) error {
	cfg := invalidateConfig{refetch: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	k, err := Canonical(key)
	if err != nil {
		return err
	}
	c.store.Delete(k)

	var failures []error
	for i, h := range c.hooks() {
		if h.OnInvalidate == nil {
			continue
		}
		if err := c.guard(ctx, StageInvalidate, k, i, func() { h.OnInvalidate(ctx, k) }); err != nil {
			failures = append(failures, err)
		}
	}

	if cfg.refetch {
		failures = append(failures, c.notify(ctx, k)...)
	}
	return errors.Join(failures...)
}

// RegisterPlugin calls p with the client and appends the returned hooks.
// Hooks run in registration order. There is no removal.
func (c *Client) RegisterPlugin(p Plugin) {
	if p == nil {
		return
	}
	h := p(c)
	if h == nil {
		return
	}
	c.mu.Lock()
	c.plugins = append(c.plugins, h)
	c.mu.Unlock()
}

// HasFetcher reports whether key has a remembered fetcher.
func (c *Client) HasFetcher(key Key) bool {
	k, err := Canonical(key)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.fetchers[k]
	return ok
}

// Len returns the number of cached entries.
func (c *Client) Len() int {
	return c.store.Len()
}

// Keys returns the canonical keys of all cached entries, sorted.
func (c *Client) Keys() []string {
	return c.store.Keys()
}

func (c *Client) fetch(ctx context.Context, k string, fn FetchFunc) (any, error) {
	if fn == nil {
		return nil, ErrNilFetch
	}

	ctx = withFetchID(ctx)
	hooks := c.hooks()

	for i, h := range hooks {
		if h.OnQueryStart != nil {
			_ = c.guard(ctx, StageQueryStart, k, i, func() { h.OnQueryStart(ctx, k) })
		}
	}

	result, err := fn(ctx)
	if err != nil {
		for i, h := range hooks {
			if h.OnQueryError != nil {
				_ = c.guard(ctx, StageQueryError, k, i, func() { h.OnQueryError(ctx, k, err) })
			}
		}
		return nil, err
	}

	c.mu.Lock()
	c.store.Set(k, result)
	c.fetchers[k] = fn
	c.mu.Unlock()

	for i, h := range hooks {
		if h.OnQuerySuccess != nil {
			_ = c.guard(ctx, StageQuerySuccess, k, i, func() { h.OnQuerySuccess(ctx, k, result) })
		}
	}
	return result, nil
}

// hooks returns the plugin list. It is append-only, so the returned slice
// is a stable snapshot.
func (c *Client) hooks() []*Hooks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plugins
}

// guard runs fn and converts a panic into a *CallbackError reported to
// the failure handler.
func (c *Client) guard(ctx context.Context, stage Stage, k string, index int, fn func()) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			cbErr := &CallbackError{Stage: stage, Key: k, Index: index, Value: r}
			c.onFailure(ctx, cbErr)
			failure = cbErr
		}
	}()
	fn()
	return nil
}
