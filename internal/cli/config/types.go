// Package config provides configuration management for the querydeck CLI.
package config

import (
	"time"

	"github.com/leapstack-labs/querydeck/internal/pool"
	"github.com/leapstack-labs/querydeck/internal/translate"
)

// Config holds all CLI configuration options.
type Config struct {
	StatePath    string           `koanf:"state_path"`
	Port         int              `koanf:"port"`
	Verbose      bool             `koanf:"verbose"`
	OutputFormat string           `koanf:"output"`
	LLM          translate.Config `koanf:"llm"`
	Pool         PoolConfig       `koanf:"pool"`
	Server       ServerConfig     `koanf:"server"`
}

// PoolConfig bounds the connection pool kept per registered database.
type PoolConfig struct {
	MaxConns       int           `koanf:"max_conns"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	MaxLifetime    time.Duration `koanf:"max_lifetime"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ProbeTimeout   time.Duration `koanf:"probe_timeout"`
}

// Limits converts the config section into pool limits.
func (p PoolConfig) Limits() pool.Limits {
	return pool.Limits{
		MaxConns:       p.MaxConns,
		AcquireTimeout: p.AcquireTimeout,
		IdleTimeout:    p.IdleTimeout,
		MaxLifetime:    p.MaxLifetime,
		ConnectTimeout: p.ConnectTimeout,
		ProbeTimeout:   p.ProbeTimeout,
	}
}

// ServerConfig holds API server options.
type ServerConfig struct {
	// RateLimit is requests per second per client on the natural-language endpoint
	RateLimit      float64  `koanf:"rate_limit"`
	RateBurst      int      `koanf:"rate_burst"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	// TrustProxy keys clients on forwarded headers instead of the peer address
	TrustProxy bool `koanf:"trust_proxy"`
}
