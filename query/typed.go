package query

import (
	"context"
	"fmt"
)

// GetAs is Get with a type assertion. A present entry of another type
// reports false. A cached nil yields the zero T.
func GetAs[T any](c *Client, key Key) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	if v == nil {
		return zero, true
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// EnsureAs is Ensure for a typed fetch function.
func EnsureAs[T any](ctx context.Context, c *Client, key Key, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.Ensure(ctx, key, erase(fn))
	return assertAs[T](v, err)
}

// FetchAs is Fetch for a typed fetch function.
func FetchAs[T any](ctx context.Context, c *Client, key Key, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, erase(fn))
	return assertAs[T](v, err)
}

// RefetchAs is Refetch with a type assertion on the result.
func RefetchAs[T any](ctx context.Context, c *Client, key Key) (T, error) {
	v, err := c.Refetch(ctx, key)
	return assertAs[T](v, err)
}

func erase[T any](fn func(context.Context) (T, error)) FetchFunc {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

func assertAs[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	// A nil result is stored as a nil any, which never asserts to T.
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrTypeMismatch, v, zero)
	}
	return t, nil
}
