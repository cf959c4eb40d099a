package embedder

import (
	"context"
	"time"

	"github.com/slok/goresilience"
	"github.com/slok/goresilience/circuitbreaker"
)

// BreakerConfig controls when a failing provider is taken out of the chain.
type BreakerConfig struct {
	ErrorPercentThresholdToOpen int
	MinimumRequestToOpen        int
	WaitDurationInOpenState     time.Duration
}

// DefaultBreakerConfig returns default circuit breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorPercentThresholdToOpen: 50,
		MinimumRequestToOpen:        5,
		WaitDurationInOpenState:     30 * time.Second,
	}
}

type breakerProvider struct {
	Provider
	runner goresilience.Runner
}

// WithBreaker wraps p in a circuit breaker. While the circuit is open calls
// fail immediately, so the gateway moves on to the next step without waiting
// for the provider's timeout.
func WithBreaker(p Provider, cfg BreakerConfig) Provider {
	def := DefaultBreakerConfig()
	if cfg.ErrorPercentThresholdToOpen <= 0 {
		cfg.ErrorPercentThresholdToOpen = def.ErrorPercentThresholdToOpen
	}
	if cfg.MinimumRequestToOpen <= 0 {
		cfg.MinimumRequestToOpen = def.MinimumRequestToOpen
	}
	if cfg.WaitDurationInOpenState <= 0 {
		cfg.WaitDurationInOpenState = def.WaitDurationInOpenState
	}
	cb := circuitbreaker.NewMiddleware(circuitbreaker.Config{
		ErrorPercentThresholdToOpen:        cfg.ErrorPercentThresholdToOpen,
		MinimumRequestToOpen:               cfg.MinimumRequestToOpen,
		SuccessfulRequiredOnHalfOpen:       1,
		WaitDurationInOpenState:            cfg.WaitDurationInOpenState,
		MetricsSlidingWindowBucketQuantity: 10,
		MetricsBucketDuration:              time.Second,
	})
	return &breakerProvider{Provider: p, runner: goresilience.RunnerChain(cb)}
}

func (b *breakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := b.runner.Run(ctx, func(ctx context.Context) error {
		vectors, err := b.Provider.Embed(ctx, texts)
		out = vectors
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
