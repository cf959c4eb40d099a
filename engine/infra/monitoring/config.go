package monitoring

import (
	"fmt"
	"strings"

	appconfig "github.com/compozy/tutorrag/pkg/config"
)

const DefaultPath = "/metrics"

// Config holds configuration for monitoring service
type Config struct {
	Enabled bool
	Path    string
}

// DefaultConfig returns default monitoring configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Path:    DefaultPath,
	}
}

// ConfigFromApp enables the exporter when the server exposes metrics.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	out := DefaultConfig()
	if cfg != nil {
		out.Enabled = cfg.Server.Metrics
	}
	return out
}

// Validate validates the monitoring configuration
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("monitoring path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", c.Path)
	}
	if strings.HasPrefix(c.Path, "/api/") {
		return fmt.Errorf("monitoring path cannot be under /api/")
	}
	if strings.ContainsRune(c.Path, '?') {
		return fmt.Errorf("monitoring path cannot contain query parameters")
	}
	return nil
}
