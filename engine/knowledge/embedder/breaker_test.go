package embedder

import (
	"errors"
	"testing"
	"time"

	rerrors "github.com/slok/goresilience/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/tutorrag/engine/knowledge"
	appconfig "github.com/compozy/tutorrag/pkg/config"
)

func TestWithBreaker(t *testing.T) {
	cfg := BreakerConfig{
		ErrorPercentThresholdToOpen: 50,
		MinimumRequestToOpen:        2,
		WaitDurationInOpenState:     time.Minute,
	}

	t.Run("Should pass results through while closed", func(t *testing.T) {
		p := WithBreaker(&stubProvider{name: "local", fn: fixed(1, 2)}, cfg)
		vecs, err := p.Embed(t.Context(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 2}, {1, 2}}, vecs)
		assert.Equal(t, "local", p.Name())
	})

	t.Run("Should stop calling a provider after repeated failures", func(t *testing.T) {
		inner := &stubProvider{name: "local", fn: failing(errors.New("connection refused"))}
		p := WithBreaker(inner, cfg)
		for range 2 {
			_, err := p.Embed(t.Context(), []string{"x"})
			require.Error(t, err)
		}
		_, err := p.Embed(t.Context(), []string{"x"})
		require.ErrorIs(t, err, rerrors.ErrCircuitOpen)
		assert.EqualValues(t, 2, inner.calls.Load())
	})

	t.Run("Should let the gateway fall through an open circuit", func(t *testing.T) {
		local := &stubProvider{name: "local", fn: failing(errors.New("connection refused"))}
		remote := &stubProvider{name: "remote", fn: fixed(0, 1)}
		gw, err := NewGateway(2, Step{Provider: WithBreaker(local, cfg)}, Step{Provider: remote})
		require.NoError(t, err)
		for range 4 {
			vec, err := gw.Embed(t.Context(), "osmosis")
			require.NoError(t, err)
			assert.Equal(t, []float32{0, 1}, vec)
		}
		assert.EqualValues(t, 2, local.calls.Load())
		assert.EqualValues(t, 4, remote.calls.Load())
	})

	t.Run("Should surface unavailability when every circuit is open", func(t *testing.T) {
		remote := &stubProvider{name: "remote", fn: failing(errors.New("quota exceeded"))}
		gw, err := NewGateway(0, Step{Provider: WithBreaker(remote, cfg)})
		require.NoError(t, err)
		for range 3 {
			_, err = gw.Embed(t.Context(), "osmosis")
			require.ErrorIs(t, err, knowledge.ErrEmbeddingUnavailable)
		}
		assert.EqualValues(t, 2, remote.calls.Load())
	})
}

func TestFromConfig_Breaker(t *testing.T) {
	t.Run("Should wrap providers when enabled", func(t *testing.T) {
		cfg := appconfig.Default().Embedding
		gw, err := FromConfig(&cfg)
		require.NoError(t, err)
		for _, s := range gw.steps {
			_, ok := s.Provider.(*breakerProvider)
			assert.True(t, ok, s.Provider.Name())
		}
	})

	t.Run("Should leave providers bare when disabled", func(t *testing.T) {
		cfg := appconfig.Default().Embedding
		cfg.Breaker.Enabled = false
		gw, err := FromConfig(&cfg)
		require.NoError(t, err)
		for _, s := range gw.steps {
			_, ok := s.Provider.(*breakerProvider)
			assert.False(t, ok, s.Provider.Name())
		}
	})
}
