package query

import "context"

// FailureHandler receives callback failures recovered by the client.
type FailureHandler func(ctx context.Context, err *CallbackError)

// Option configures a Client.
type Option func(*Client)

// WithStore replaces the default MemoryStore.
func WithStore(s Store) Option {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

// WithSingleFlight makes concurrent Ensure calls for the same uncached key
// share one fetch. Without it each caller fetches independently.
func WithSingleFlight() Option {
	return func(c *Client) {
		c.coalesce = true
	}
}

// WithFailureHandler sets the handler for panics recovered from hooks and
// subscribers. The default discards them.
func WithFailureHandler(h FailureHandler) Option {
	return func(c *Client) {
		if h != nil {
			c.onFailure = h
		}
	}
}

// WithPlugins registers plugins at construction, in order.
func WithPlugins(plugins ...Plugin) Option {
	return func(c *Client) {
		c.pending = append(c.pending, plugins...)
	}
}

// InvalidateOption configures a single Invalidate call.
type InvalidateOption func(*invalidateConfig)

type invalidateConfig struct {
	refetch bool
}

// WithoutRefetch clears the entry without notifying subscribers.
func WithoutRefetch() InvalidateOption {
	return func(cfg *invalidateConfig) {
		cfg.refetch = false
	}
}

// WithRefetch sets whether subscribers are notified. The default is true.
func WithRefetch(refetch bool) InvalidateOption {
	return func(cfg *invalidateConfig) {
		cfg.refetch = refetch
	}
}
