package config

import (
	"context"
	"sync"

	"github.com/compozy/tutorrag/pkg/logger"
)

// ContextKey is an alias used for storing values in context
type ContextKey string

const ConfigCtxKey ContextKey = "config"

// ContextWithConfig stores cfg in the context.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ConfigCtxKey, cfg)
}

var (
	defaultConfig     *Config
	defaultConfigOnce sync.Once
)

// FromContext returns the configuration attached to ctx. When none is present
// it falls back to defaults plus environment overrides.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(ConfigCtxKey).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	defaultConfigOnce.Do(func() {
		cfg, err := NewService().Load(ctx)
		if err != nil {
			logger.FromContext(ctx).Warn("failed to load default configuration, using fallback defaults", "error", err)
			cfg = Default()
		}
		defaultConfig = cfg
	})
	return defaultConfig
}
