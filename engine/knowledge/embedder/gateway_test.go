package embedder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, texts []string) ([][]float32, error)
}

func (s *stubProvider) Name() string {
	return s.name
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	return s.fn(ctx, texts)
}

func fixed(vec ...float32) func(context.Context, []string) ([][]float32, error) {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = append([]float32(nil), vec...)
		}
		return out, nil
	}
}

func failing(err error) func(context.Context, []string) ([][]float32, error) {
	return func(context.Context, []string) ([][]float32, error) {
		return nil, err
	}
}

func TestGateway_Embed(t *testing.T) {
	t.Run("Should use the local provider when it succeeds", func(t *testing.T) {
		local := &stubProvider{name: "local", fn: fixed(1, 0)}
		remote := &stubProvider{name: "remote", fn: fixed(0, 1)}
		gw, err := NewGateway(2, Step{Provider: local}, Step{Provider: remote})
		require.NoError(t, err)

		vec, err := gw.Embed(t.Context(), "osmosis")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, vec)
		assert.EqualValues(t, 0, remote.calls.Load())
	})

	t.Run("Should fall back to remote when local fails", func(t *testing.T) {
		local := &stubProvider{name: "local", fn: failing(errors.New("connection refused"))}
		remote := &stubProvider{name: "remote", fn: fixed(0, 1)}
		gw, err := NewGateway(2, Step{Provider: local}, Step{Provider: remote})
		require.NoError(t, err)

		vec, err := gw.Embed(t.Context(), "osmosis")
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1}, vec)
		assert.EqualValues(t, 1, local.calls.Load())
	})

	t.Run("Should fall back when local hangs past its timeout", func(t *testing.T) {
		local := &stubProvider{name: "local", fn: func(ctx context.Context, _ []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		remote := &stubProvider{name: "remote", fn: fixed(0, 1)}
		gw, err := NewGateway(0, Step{Provider: local, Timeout: 20 * time.Millisecond}, Step{Provider: remote})
		require.NoError(t, err)

		vec, err := gw.Embed(t.Context(), "osmosis")
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1}, vec)
	})

	t.Run("Should treat a wrong dimension as a provider failure", func(t *testing.T) {
		local := &stubProvider{name: "local", fn: fixed(1, 2, 3)}
		remote := &stubProvider{name: "remote", fn: fixed(0, 1)}
		gw, err := NewGateway(2, Step{Provider: local}, Step{Provider: remote})
		require.NoError(t, err)

		vec, err := gw.Embed(t.Context(), "osmosis")
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1}, vec)
	})

	t.Run("Should report unavailability with the last cause when all fail", func(t *testing.T) {
		cause := errors.New("401 unauthorized")
		local := &stubProvider{name: "local", fn: failing(errors.New("down"))}
		remote := &stubProvider{name: "remote", fn: failing(cause)}
		gw, err := NewGateway(2, Step{Provider: local}, Step{Provider: remote})
		require.NoError(t, err)

		vec, err := gw.Embed(t.Context(), "osmosis")
		assert.Nil(t, vec)
		assert.ErrorIs(t, err, knowledge.ErrEmbeddingUnavailable)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "remote")
	})

	t.Run("Should skip providers for blank text", func(t *testing.T) {
		remote := &stubProvider{name: "remote", fn: fixed(0, 1)}
		gw, err := NewGateway(2, Step{Provider: remote})
		require.NoError(t, err)

		vec, err := gw.Embed(t.Context(), " \n\t ")
		require.NoError(t, err)
		assert.Nil(t, vec)
		assert.EqualValues(t, 0, remote.calls.Load())
	})

	t.Run("Should require at least one provider", func(t *testing.T) {
		_, err := NewGateway(2)
		assert.Error(t, err)
	})
}

func TestGateway_EmbedDocuments(t *testing.T) {
	t.Run("Should keep order and deduplicate texts in one call", func(t *testing.T) {
		var seen []string
		remote := &stubProvider{name: "remote", fn: func(_ context.Context, texts []string) ([][]float32, error) {
			seen = append(seen, texts...)
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i] = []float32{float32(len(text))}
			}
			return out, nil
		}}
		gw, err := NewGateway(1, Step{Provider: remote})
		require.NoError(t, err)

		vecs, err := gw.EmbedDocuments(t.Context(), []string{"aa", "", "bbbb", "aa"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{2}, nil, {4}, {2}}, vecs)
		assert.Equal(t, []string{"aa", "bbbb"}, seen)
	})

	t.Run("Should serve repeated texts from the cache", func(t *testing.T) {
		remote := &stubProvider{name: "remote", fn: fixed(0.5, 0.5)}
		gw, err := NewGateway(2, Step{Provider: remote})
		require.NoError(t, err)
		require.NoError(t, gw.EnableCache(8))

		first, err := gw.Embed(t.Context(), "mitosis")
		require.NoError(t, err)
		first[0] = 99
		second, err := gw.Embed(t.Context(), "mitosis")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5}, second)
		assert.EqualValues(t, 1, remote.calls.Load())
		assert.Error(t, gw.EnableCache(0))
	})

	t.Run("Should reject providers returning the wrong count", func(t *testing.T) {
		remote := &stubProvider{name: "remote", fn: func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		}}
		gw, err := NewGateway(0, Step{Provider: remote})
		require.NoError(t, err)
		_, err = gw.EmbedDocuments(t.Context(), []string{"a", "b"})
		assert.ErrorIs(t, err, knowledge.ErrEmbeddingUnavailable)
	})
}
