package query

import (
	"errors"
	"fmt"
)

// Sentinel errors for query operations.
var (
	ErrInvalidKey   = errors.New("query: key is not encodable")
	ErrNoFetcher    = errors.New("query: no fetcher registered for key")
	ErrNilFetch     = errors.New("query: fetch function is nil")
	ErrTypeMismatch = errors.New("query: cached value has unexpected type")
)

// MissingFetcherError is returned by Refetch for a key that never
// completed a fetch. It matches ErrNoFetcher.
type MissingFetcherError struct {
	Key string
}

func (e *MissingFetcherError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNoFetcher.Error(), e.Key)
}

func (e *MissingFetcherError) Is(target error) bool {
	return target == ErrNoFetcher
}

// Stage names the point at which a callback was invoked.
type Stage string

const (
	StageQueryStart   Stage = "query-start"
	StageQuerySuccess Stage = "query-success"
	StageQueryError   Stage = "query-error"
	StageInvalidate   Stage = "invalidate"
	StageSubscriber   Stage = "subscriber"
)

// CallbackError records a panic recovered from a plugin hook or a
// subscriber. Index is the plugin's registration index or the
// subscriber's position in the key's subscriber set.
type CallbackError struct {
	Stage Stage
	Key   string
	Index int
	Value any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("query: %s callback #%d for %s panicked: %v", e.Stage, e.Index, e.Key, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *CallbackError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
