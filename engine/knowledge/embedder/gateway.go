package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/pkg/logger"
)

// Step is one entry of the fallback chain.
type Step struct {
	Provider Provider
	Timeout  time.Duration
}

// Gateway tries each step in order and returns the first success. Failures
// of non-final steps are logged and absorbed; when every step fails the
// error wraps knowledge.ErrEmbeddingUnavailable.
type Gateway struct {
	steps     []Step
	dimension int
	cacheMu   sync.Mutex
	cache     *lru.Cache[string, []float32]
}

// NewGateway builds a gateway over steps. A positive dimension makes any
// vector of a different length count as a provider failure.
func NewGateway(dimension int, steps ...Step) (*Gateway, error) {
	filtered := make([]Step, 0, len(steps))
	for _, s := range steps {
		if s.Provider != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return nil, errors.New("embedder: at least one provider is required")
	}
	return &Gateway{steps: filtered, dimension: dimension}, nil
}

// Dimension returns the configured vector dimension, or 0 when unchecked.
func (g *Gateway) Dimension() int {
	return g.dimension
}

// EnableCache keeps up to size text embeddings in an LRU cache.
func (g *Gateway) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("embedder: cache size must be greater than zero")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder: init cache: %w", err)
	}
	g.cacheMu.Lock()
	g.cache = cache
	g.cacheMu.Unlock()
	return nil
}

// Embed returns the vector for text. Blank text yields nil without
// contacting any provider.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vectors, err := g.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds texts in one call per provider attempt. Blank
// entries get a nil vector.
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var order []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if vec, ok := g.lookup(text); ok {
			results[i] = vec
			continue
		}
		if _, seen := pending[text]; !seen {
			order = append(order, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(order) == 0 {
		return results, nil
	}
	vectors, err := g.attempt(ctx, order)
	if err != nil {
		return nil, err
	}
	for i, text := range order {
		g.store(text, vectors[i])
		for _, idx := range pending[text] {
			results[idx] = cloneVector(vectors[i])
		}
	}
	return results, nil
}

func (g *Gateway) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	log := logger.FromContext(ctx)
	var lastErr error
	var lastName string
	for i, step := range g.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		started := time.Now()
		vectors, err := g.callStep(ctx, step, texts)
		knowledge.RecordEmbedDuration(ctx, step.Provider.Name(), time.Since(started), err == nil)
		if err == nil {
			return vectors, nil
		}
		lastErr, lastName = err, step.Provider.Name()
		if i < len(g.steps)-1 {
			log.Warn("embedding provider failed, falling back",
				"provider", lastName,
				"next", g.steps[i+1].Provider.Name(),
				"error", err,
			)
			knowledge.RecordEmbedFallback(ctx, lastName)
		}
	}
	return nil, fmt.Errorf("%w: provider %s: %w", knowledge.ErrEmbeddingUnavailable, lastName, lastErr)
}

func (g *Gateway) callStep(ctx context.Context, step Step, texts []string) ([][]float32, error) {
	callCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	vectors, err := step.Provider.Embed(callCtx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("received %d embeddings for %d texts", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		if g.dimension > 0 && len(vec) != g.dimension {
			return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(vec), g.dimension)
		}
	}
	return vectors, nil
}

func (g *Gateway) lookup(text string) ([]float32, bool) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	if g.cache == nil {
		return nil, false
	}
	vec, ok := g.cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	return cloneVector(vec), true
}

func (g *Gateway) store(text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	if g.cache != nil {
		g.cache.Add(cacheKey(text), cloneVector(vec))
	}
}
