// Package mutation coordinates writes with the query cache.
//
// A Mutation calls an arbitrary function directly, not through the cache.
// When the function succeeds, every key the mutation declares as affected
// is invalidated on the query.Client, which notifies the key's subscribers
// so they can fetch fresh data.
package mutation
