// Package observe instruments a query.Client with OpenTelemetry traces,
// metrics and zerolog logs.
//
// An Observer owns the providers built from Config. A Plugin turns the
// observer's primitives into query hooks: every fetch becomes a span named
// query.fetch.<scope>, its duration and outcome are recorded, and every
// invalidation is counted. Register it with query.WithPlugins or
// Client.RegisterPlugin.
package observe
