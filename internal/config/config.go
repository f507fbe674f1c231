// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all server settings. Every field has an environment
// variable and a default suitable for local development.
type Config struct {
	// Addr is the HTTP/WebSocket listen address.
	Addr string `env:"DEVPULSE_ADDR" envDefault:":8080"`

	// Redis backend. An empty address means sessions are cached in
	// process memory only.
	RedisAddr     string `env:"DEVPULSE_REDIS_ADDR"`
	RedisPassword string `env:"DEVPULSE_REDIS_PASSWORD"`
	RedisDB       int    `env:"DEVPULSE_REDIS_DB" envDefault:"0"`
	RedisTLS      bool   `env:"DEVPULSE_REDIS_TLS" envDefault:"false"`

	// CacheTTL is how long persisted session sets live without being
	// refreshed.
	CacheTTL time.Duration `env:"DEVPULSE_CACHE_TTL" envDefault:"24h"`

	// DebounceWindow coalesces persistence writes per user.
	DebounceWindow time.Duration `env:"DEVPULSE_DEBOUNCE" envDefault:"2s"`

	// TickInterval is how often elapsed-time deltas are broadcast to
	// users with running sessions.
	TickInterval time.Duration `env:"DEVPULSE_TICK_INTERVAL" envDefault:"1s"`

	// PurgeInterval is how often abandoned sessions are scanned for.
	PurgeInterval time.Duration `env:"DEVPULSE_PURGE_INTERVAL" envDefault:"60s"`

	// PurgeAfter is how long a session may sit paused before eviction.
	PurgeAfter time.Duration `env:"DEVPULSE_PURGE_AFTER" envDefault:"12h"`

	// JWTSecret signs/verifies client bearer tokens. Required outside
	// of tests.
	JWTSecret string `env:"DEVPULSE_JWT_SECRET"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
