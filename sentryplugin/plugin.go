// Package sentryplugin reports failed query fetches and recovered callback
// panics to Sentry.
package sentryplugin

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/jonwraymond/querycache/query"
)

// ErrNilHub indicates a nil *sentry.Hub was provided.
var ErrNilHub = errors.New("sentryplugin: hub is nil")

// Options tune what is reported.
type Options struct {
	// Ignore suppresses reporting for errors it returns true for.
	// context.Canceled is always ignored.
	Ignore func(err error) bool

	// FlushTimeout bounds Flush. Default: 2s.
	FlushTimeout time.Duration
}

// Reporter sends query failures to a Sentry hub.
//
// Contract:
// - Concurrency: safe for concurrent use. Every report runs on its own
//   clone of the hub, so tags never leak between events.
// - Errors: reporting is best-effort and never affects the fetch.
type Reporter struct {
	hub  *sentry.Hub
	opts Options
}

// New creates a Reporter for hub.
func New(hub *sentry.Hub, opts Options) (*Reporter, error) {
	if hub == nil {
		return nil, ErrNilHub
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 2 * time.Second
	}
	return &Reporter{hub: hub, opts: opts}, nil
}

// Plugin returns a query.Plugin that reports fetch errors.
func (r *Reporter) Plugin() query.Plugin {
	return func(*query.Client) *query.Hooks {
		return &query.Hooks{OnQueryError: r.onQueryError}
	}
}

// FailureHandler returns a query.FailureHandler that reports recovered
// panics at fatal level.
func (r *Reporter) FailureHandler() query.FailureHandler {
	return func(ctx context.Context, err *query.CallbackError) {
		hub := r.hub.Clone()
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelFatal)
			scope.SetTag("query.key", err.Key)
			scope.SetTag("query.stage", string(err.Stage))
			scope.SetContext("callback", sentry.Context{
				"index": err.Index,
				"panic": err.Value,
			})
			hub.CaptureException(err)
		})
	}
}

// Flush waits for buffered events to be sent.
func (r *Reporter) Flush() bool {
	return r.hub.Flush(r.opts.FlushTimeout)
}

func (r *Reporter) onQueryError(ctx context.Context, key string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if r.opts.Ignore != nil && r.opts.Ignore(err) {
		return
	}

	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("query.key", key)
		if id := query.FetchID(ctx); id != 0 {
			scope.SetContext("query", sentry.Context{"fetch_id": id})
		}
		hub.CaptureException(err)
	})
}
