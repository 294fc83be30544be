// Package query provides an in-memory query cache with remembered
// fetchers, per-key subscribers and lifecycle plugin hooks.
//
// A Client caches the result of a caller-supplied FetchFunc under the
// canonical form of a Key. Ensure serves a cached value or fetches it,
// Fetch always fetches, Refetch reuses the last successful fetcher, and
// Invalidate drops an entry and notifies subscribers so they can fetch
// again. Entries never expire.
//
// Concurrent Ensure calls for the same missing key each run their own
// fetch unless the client is built WithSingleFlight.
package query
