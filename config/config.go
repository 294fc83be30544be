// Package config loads query cache settings from YAML and the environment
// and assembles a ready-to-use client from them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/resilience"
)

// EnvPrefix prefixes every environment override, e.g.
// QUERYCACHE_OBSERVE_LOGGING_LEVEL=debug.
const EnvPrefix = "QUERYCACHE"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all configuration for a query cache runtime.
type Config struct {
	Query      QueryConfig      `mapstructure:"query"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Observe    observe.Config   `mapstructure:"observe"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
}

// QueryConfig configures the query client.
type QueryConfig struct {
	// SingleFlight coalesces concurrent Ensure calls for one key.
	SingleFlight bool `mapstructure:"single_flight"`
}

// ResilienceConfig configures the policies applied by Runtime.Wrap.
type ResilienceConfig struct {
	Retry   RetryConfig   `mapstructure:"retry"`
	Timeout time.Duration `mapstructure:"timeout"` // 0 disables
}

// RetryConfig configures fetch retries.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"` // <= 1 disables
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Strategy     string        `mapstructure:"strategy"` // exponential|linear|constant
	Jitter       bool          `mapstructure:"jitter"`
}

// SentryConfig configures error reporting to Sentry.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("query.single_flight", false)

	v.SetDefault("resilience.timeout", time.Duration(0))
	v.SetDefault("resilience.retry.max_attempts", 1)
	v.SetDefault("resilience.retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("resilience.retry.max_delay", 30*time.Second)
	v.SetDefault("resilience.retry.multiplier", 2.0)
	v.SetDefault("resilience.retry.strategy", "exponential")
	v.SetDefault("resilience.retry.jitter", false)

	v.SetDefault("observe.service_name", "querycache")
	v.SetDefault("observe.version", "")
	v.SetDefault("observe.tracing.enabled", false)
	v.SetDefault("observe.tracing.exporter", "none")
	v.SetDefault("observe.tracing.sample_pct", 1.0)
	v.SetDefault("observe.metrics.enabled", false)
	v.SetDefault("observe.metrics.exporter", "none")
	v.SetDefault("observe.logging.enabled", true)
	v.SetDefault("observe.logging.level", "info")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.sample_rate", 1.0)
}

// Load reads configuration. With an empty path it looks for querycache.yaml
// in . and ./config and tolerates its absence; an explicit path must exist.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("querycache")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	r := c.Resilience
	if r.Timeout < 0 {
		return fmt.Errorf("%w: resilience.timeout must not be negative", ErrInvalidConfig)
	}
	if r.Retry.InitialDelay < 0 || r.Retry.MaxDelay < 0 {
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	}
	switch r.Retry.Strategy {
	case "", "exponential", "linear", "constant":
	default:
		return fmt.Errorf("%w: unknown retry strategy %q", ErrInvalidConfig, r.Retry.Strategy)
	}

	if c.Sentry.Enabled {
		if c.Sentry.DSN == "" {
			return fmt.Errorf("%w: sentry.dsn is required when sentry is enabled", ErrInvalidConfig)
		}
		if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
			return fmt.Errorf("%w: sentry.sample_rate must be between 0.0 and 1.0", ErrInvalidConfig)
		}
	}
	return nil
}

// RetryPolicy returns the configured retry policy, or nil when retries are off.
func (c *Config) RetryPolicy() *resilience.Retry {
	rc := c.Resilience.Retry
	if rc.MaxAttempts <= 1 {
		return nil
	}
	return resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		Strategy:     resilience.ParseBackoffStrategy(rc.Strategy),
		Jitter:       rc.Jitter,
	})
}

// TimeoutPolicy returns the configured timeout, or nil when disabled.
func (c *Config) TimeoutPolicy() *resilience.Timeout {
	if c.Resilience.Timeout <= 0 {
		return nil
	}
	return resilience.NewTimeout(resilience.TimeoutConfig{Timeout: c.Resilience.Timeout})
}
