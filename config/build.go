package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/query"
	"github.com/jonwraymond/querycache/resilience"
	"github.com/jonwraymond/querycache/sentryplugin"
)

// Runtime is a client wired with the configured telemetry and policies.
type Runtime struct {
	Client   *query.Client
	Observer observe.Observer
	Reporter *sentryplugin.Reporter // nil when sentry is disabled

	retry   *resilience.Retry
	timeout *resilience.Timeout
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	observe []observe.Option
	query   []query.Option
	sentry  func(*sentry.ClientOptions)
}

// WithObserveOptions forwards options to observe.NewObserver.
func WithObserveOptions(opts ...observe.Option) BuildOption {
	return func(b *buildOptions) { b.observe = append(b.observe, opts...) }
}

// WithQueryOptions appends client options. Plugins given here register
// after the built-in ones.
func WithQueryOptions(opts ...query.Option) BuildOption {
	return func(b *buildOptions) { b.query = append(b.query, opts...) }
}

// WithSentryClientOptions adjusts the sentry client options before the
// client is created.
func WithSentryClientOptions(fn func(*sentry.ClientOptions)) BuildOption {
	return func(b *buildOptions) { b.sentry = fn }
}

// Build assembles a Runtime from cfg. The observe plugin is registered
// first, then the sentry plugin when enabled.
func Build(ctx context.Context, cfg *Config, opts ...BuildOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var b buildOptions
	for _, opt := range opts {
		opt(&b)
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe, b.observe...)
	if err != nil {
		return nil, err
	}
	obsPlugin, err := observe.PluginFromObserver(obs)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	rt := &Runtime{
		Observer: obs,
		retry:    cfg.RetryPolicy(),
		timeout:  cfg.TimeoutPolicy(),
	}

	plugins := []query.Plugin{obsPlugin.Install}
	handlers := []query.FailureHandler{obsPlugin.FailureHandler()}

	if cfg.Sentry.Enabled {
		rep, err := newReporter(cfg, b.sentry)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, err
		}
		rt.Reporter = rep
		plugins = append(plugins, rep.Plugin())
		handlers = append(handlers, rep.FailureHandler())
	}

	qopts := []query.Option{
		query.WithPlugins(plugins...),
		query.WithFailureHandler(fanOut(handlers)),
	}
	if cfg.Query.SingleFlight {
		qopts = append(qopts, query.WithSingleFlight())
	}
	rt.Client = query.New(append(qopts, b.query...)...)

	obs.Logger().Debug(ctx, "query client ready",
		observe.F("single_flight", cfg.Query.SingleFlight),
		observe.F("sentry", cfg.Sentry.Enabled),
	)
	return rt, nil
}

func newReporter(cfg *Config, adjust func(*sentry.ClientOptions)) (*sentryplugin.Reporter, error) {
	copts := sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Observe.Version,
		SampleRate:  cfg.Sentry.SampleRate,
		ServerName:  cfg.Observe.ServiceName,
	}
	if adjust != nil {
		adjust(&copts)
	}
	client, err := sentry.NewClient(copts)
	if err != nil {
		return nil, fmt.Errorf("config: sentry client: %w", err)
	}
	return sentryplugin.New(sentry.NewHub(client, sentry.NewScope()), sentryplugin.Options{})
}

func fanOut(handlers []query.FailureHandler) query.FailureHandler {
	return func(ctx context.Context, err *query.CallbackError) {
		for _, h := range handlers {
			h(ctx, err)
		}
	}
}

// Wrap applies the configured retry and timeout policies to fn.
func (r *Runtime) Wrap(fn query.FetchFunc) query.FetchFunc {
	return resilience.WrapFetch(fn, r.retry, r.timeout)
}

// Shutdown flushes sentry and shuts the observer down.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if r.Reporter != nil {
		r.Reporter.Flush()
	}
	if r.Observer != nil {
		if err := r.Observer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
