package embedder

import (
	"fmt"

	appconfig "github.com/compozy/tutorrag/pkg/config"
)

// FromConfig assembles the provider chain: the local provider first when
// enabled, then the remote provider.
func FromConfig(cfg *appconfig.EmbeddingConfig) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder: config is required")
	}
	var steps []Step
	if cfg.PreferLocal && cfg.Local.BaseURL != "" {
		local, err := NewLocalProvider(LocalConfig{
			BaseURL: cfg.Local.BaseURL,
			Model:   cfg.Local.Model,
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, Step{Provider: withConfiguredBreaker(local, &cfg.Breaker), Timeout: cfg.Local.Timeout})
	}
	if cfg.Remote.BaseURL != "" {
		remote, err := NewRemoteProvider(RemoteConfig{
			BaseURL:    cfg.Remote.BaseURL,
			Model:      cfg.Remote.Model,
			APIKey:     cfg.Remote.APIKey.Value(),
			Dimensions: cfg.Dimension,
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, Step{Provider: withConfiguredBreaker(remote, &cfg.Breaker), Timeout: cfg.Remote.Timeout})
	}
	gw, err := NewGateway(cfg.Dimension, steps...)
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		if err := gw.EnableCache(cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	return gw, nil
}

func withConfiguredBreaker(p Provider, cfg *appconfig.BreakerConfig) Provider {
	if !cfg.Enabled {
		return p
	}
	return WithBreaker(p, BreakerConfig{
		ErrorPercentThresholdToOpen: cfg.ErrorPercent,
		MinimumRequestToOpen:        cfg.MinRequests,
		WaitDurationInOpenState:     cfg.OpenFor,
	})
}
