package observability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config is the observability section of the service configuration.
type Config struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure       bool          `mapstructure:"insecure" yaml:"insecure"`
	SampleRate     float64       `mapstructure:"sample_rate" yaml:"sample_rate"`
	MetricInterval time.Duration `mapstructure:"metric_interval" yaml:"metric_interval"`
}

// ApplyDefaults fills unset fields with development defaults.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = 15 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("observability: sample_rate must be within [0, 1], got %v", c.SampleRate)
	}
	return nil
}

// Setup installs the OTLP tracer and meter providers when enabled and
// returns a shutdown function that flushes both. When disabled it is a no-op
// and the global no-op providers stay in place.
func Setup(ctx context.Context, cfg Config, service, version, environment string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := newResource(service, version, environment)
	if err != nil {
		return nil, fmt.Errorf("observability resource: %w", err)
	}
	tp, err := installTracer(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	mp, err := installMeter(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
