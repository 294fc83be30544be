package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/querycache/query"
	"github.com/jonwraymond/querycache/resilience"
)

// Func performs a side effect with vars and returns its result.
type Func[V, R any] func(ctx context.Context, vars V) (R, error)

// Status is the lifecycle state of a Mutation.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Config declares what a mutation affects and how it runs.
type Config[V, R any] struct {
	// Invalidates lists keys invalidated after every successful run.
	Invalidates []query.Key

	// InvalidatesFunc derives further keys from the vars and the result.
	InvalidatesFunc func(vars V, result R) []query.Key

	// SkipRefetch clears the affected entries without notifying their
	// subscribers.
	SkipRefetch bool

	// Retry and Timeout wrap each run. Both are optional.
	Retry   *resilience.Retry
	Timeout *resilience.Timeout

	// OnSuccess runs after the affected keys were invalidated.
	OnSuccess func(ctx context.Context, vars V, result R)

	// OnError runs when the mutation function fails.
	OnError func(ctx context.Context, vars V, err error)
}

// State is a snapshot of a Mutation.
type State[R any] struct {
	Status    Status
	Data      R
	Err       error
	UpdatedAt time.Time
}

// Mutation runs a side effect outside the cache and invalidates the
// queries it affects.
//
// Contract:
// - Concurrency: safe for concurrent use; State reflects the latest
//   finished or started run.
// - Errors: a failed run invalidates nothing. Callback failures recovered
//   during invalidation are joined into the returned error, but the run
//   still counts as successful and its result is returned.
type Mutation[V, R any] struct {
	client *query.Client
	fn     Func[V, R]
	cfg    Config[V, R]

	mu    sync.Mutex
	state State[R]
	seq   uint64
}

// New creates a Mutation bound to client.
func New[V, R any](client *query.Client, fn Func[V, R], cfg Config[V, R]) *Mutation[V, R] {
	return &Mutation[V, R]{client: client, fn: fn, cfg: cfg}
}

// Mutate runs the mutation with vars.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) (R, error) {
	var zero R
	if m.fn == nil {
		return zero, ErrNilFunc
	}

	run := m.begin()

	result, err := resilience.Do(ctx, m.cfg.Retry, func(ctx context.Context) (R, error) {
		return resilience.DoTimeout(ctx, m.cfg.Timeout, func(ctx context.Context) (R, error) {
			return m.fn(ctx, vars)
		})
	})
	if err != nil {
		m.finish(run, State[R]{Status: StatusError, Err: err})
		if m.cfg.OnError != nil {
			m.cfg.OnError(ctx, vars, err)
		}
		return zero, err
	}

	invErr := m.invalidate(ctx, vars, result)
	m.finish(run, State[R]{Status: StatusSuccess, Data: result})
	if m.cfg.OnSuccess != nil {
		m.cfg.OnSuccess(ctx, vars, result)
	}
	return result, invErr
}

// State returns the current snapshot.
func (m *Mutation[V, R]) State() State[R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset returns the mutation to idle.
func (m *Mutation[V, R]) Reset() {
	m.mu.Lock()
	m.seq++
	m.state = State[R]{Status: StatusIdle, UpdatedAt: time.Now()}
	m.mu.Unlock()
}

// Keys returns the keys a run with vars and result would invalidate.
func (m *Mutation[V, R]) Keys(vars V, result R) []query.Key {
	keys := append([]query.Key(nil), m.cfg.Invalidates...)
	if m.cfg.InvalidatesFunc != nil {
		keys = append(keys, m.cfg.InvalidatesFunc(vars, result)...)
	}
	return keys
}

func (m *Mutation[V, R]) invalidate(ctx context.Context, vars V, result R) error {
	if m.client == nil {
		return nil
	}

	var opts []query.InvalidateOption
	if m.cfg.SkipRefetch {
		opts = append(opts, query.WithoutRefetch())
	}

	var errs []error
	for _, key := range m.Keys(vars, result) {
		if err := m.client.Invalidate(ctx, key, opts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mutation[V, R]) begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.state = State[R]{Status: StatusPending, UpdatedAt: time.Now()}
	return m.seq
}

// finish records s unless a newer run or a Reset superseded it.
func (m *Mutation[V, R]) finish(run uint64, s State[R]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run != m.seq {
		return
	}
	s.UpdatedAt = time.Now()
	m.state = s
}
