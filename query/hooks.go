package query

import (
	"context"
	"sync/atomic"
)

// Hooks is the set of lifecycle callbacks a plugin may supply.
// Nil slots are skipped.
//
// Contract:
// - Ordering: for one fetch, OnQueryStart runs first, then exactly one of
//   OnQuerySuccess or OnQueryError.
// - Context: the ctx passed to all hooks of one fetch carries the same
//   FetchID.
// - Errors: a panicking hook is recovered and reported to the client's
//   FailureHandler; the remaining hooks still run.
type Hooks struct {
	OnQueryStart   func(ctx context.Context, key string)
	OnQuerySuccess func(ctx context.Context, key string, result any)
	OnQueryError   func(ctx context.Context, key string, err error)
	OnInvalidate   func(ctx context.Context, key string)
}

// Plugin builds hooks for a client. It receives the client so the plugin
// can call back into it. Returning nil registers nothing.
type Plugin func(c *Client) *Hooks

type fetchIDKey struct{}

var fetchSeq atomic.Uint64

func withFetchID(ctx context.Context) context.Context {
	return context.WithValue(ctx, fetchIDKey{}, fetchSeq.Add(1))
}

// FetchID returns the process-unique ID of the fetch that ctx belongs to,
// or 0 outside a fetch.
func FetchID(ctx context.Context) uint64 {
	id, _ := ctx.Value(fetchIDKey{}).(uint64)
	return id
}
