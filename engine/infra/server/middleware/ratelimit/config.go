package ratelimit

import (
	"fmt"
	"time"

	"github.com/compozy/tutorrag/pkg/config"
	"github.com/ulule/limiter/v3"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config represents rate limiting configuration
type Config struct {
	Rate     RateConfig
	Store    string
	Prefix   string
	MaxRetry int
	// CleanUpInterval applies to the in-memory store only.
	CleanUpInterval time.Duration
}

// RateConfig represents a single rate limit configuration
type RateConfig struct {
	Period time.Duration
	Limit  int64
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		Rate:            RateConfig{Limit: 120, Period: time.Minute},
		Store:           StoreMemory,
		Prefix:          "tutorrag:ratelimit:",
		MaxRetry:        3,
		CleanUpInterval: time.Minute,
	}
}

// ConfigFromApp maps the server rate limit settings. The Redis key prefix
// follows the shared Redis prefix so all tutorrag keys stay together.
func ConfigFromApp(cfg *config.Config) *Config {
	out := DefaultConfig()
	rl := cfg.Server.RateLimit
	out.Rate = RateConfig{Limit: rl.Limit, Period: rl.Period}
	if rl.Store != "" {
		out.Store = rl.Store
	}
	if cfg.Redis.Prefix != "" {
		out.Prefix = cfg.Redis.Prefix + "ratelimit:"
	}
	return out
}

// ToLimiterRate converts RateConfig to limiter.Rate
func (rc RateConfig) ToLimiterRate() limiter.Rate {
	return limiter.Rate{
		Period: rc.Period,
		Limit:  rc.Limit,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Rate.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Rate.Period <= 0 {
		return fmt.Errorf("rate limit period must be positive")
	}
	if c.Store != StoreMemory && c.Store != StoreRedis {
		return fmt.Errorf("unknown rate limit store %q", c.Store)
	}
	return nil
}
