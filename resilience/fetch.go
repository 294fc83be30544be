package resilience

import (
	"context"

	"github.com/jonwraymond/querycache/query"
)

// WrapFetch returns a fetch function that runs fn under timeout, retrying
// with r. Each attempt gets its own timeout. Either policy may be nil.
func WrapFetch(fn query.FetchFunc, r *Retry, t *Timeout) query.FetchFunc {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		return Do(ctx, r, func(ctx context.Context) (any, error) {
			return DoTimeout[any](ctx, t, fn)
		})
	}
}
