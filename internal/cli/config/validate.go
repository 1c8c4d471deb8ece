package config

import (
	"errors"
	"fmt"
	"time"
)

var outputFormats = map[string]bool{
	"": true, "auto": true, "table": true, "markdown": true, "csv": true, "json": true, "yaml": true,
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.StatePath == "" {
		errs = append(errs, errors.New("state_path is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if !outputFormats[c.OutputFormat] {
		errs = append(errs, fmt.Errorf("unknown output format %q (auto|table|markdown|csv|json|yaml)", c.OutputFormat))
	}
	if c.Pool.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("pool.max_conns must be at least 1, got %d", c.Pool.MaxConns))
	}
	if c.Server.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must be positive, got %v", c.Server.RateLimit))
	}
	if c.Server.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("server.rate_burst must be at least 1, got %d", c.Server.RateBurst))
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"llm.timeout", c.LLM.Timeout},
		{"pool.acquire_timeout", c.Pool.AcquireTimeout},
		{"pool.idle_timeout", c.Pool.IdleTimeout},
		{"pool.max_lifetime", c.Pool.MaxLifetime},
		{"pool.connect_timeout", c.Pool.ConnectTimeout},
		{"pool.probe_timeout", c.Pool.ProbeTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.val))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
