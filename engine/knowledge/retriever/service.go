package retriever

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/engine/knowledge/embedder"
	"github.com/compozy/tutorrag/engine/knowledge/vectordb"
	"github.com/compozy/tutorrag/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options tunes a Service. A nil Cache disables caching.
type Options struct {
	TopK     int
	MinScore float64
	Cache    Cache
}

type Service struct {
	embedder embedder.Embedder
	store    vectordb.Store
	cache    Cache
	topK     int
	minScore float64
	tracer   trace.Tracer
}

func NewService(emb embedder.Embedder, store vectordb.Store, opts Options) (*Service, error) {
	if emb == nil {
		return nil, errors.New("knowledge: retriever embedder is required")
	}
	if store == nil {
		return nil, errors.New("knowledge: retriever vector store is required")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = knowledge.DefaultTopK
	}
	return &Service{
		embedder: emb,
		store:    store,
		cache:    opts.Cache,
		topK:     topK,
		minScore: opts.MinScore,
		tracer:   otel.Tracer("tutorrag.knowledge.retriever"),
	}, nil
}

// Search returns up to topK chunks of tenant scoring at least the
// relevance threshold, best first. An empty tenant or blank query yields an
// empty list without touching the embedder.
func (s *Service) Search(ctx context.Context, tenant, query string, topK int) (results []knowledge.Result, err error) {
	if tenant == "" || strings.TrimSpace(query) == "" {
		return []knowledge.Result{}, nil
	}
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = s.topK
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "tutorrag.knowledge.retriever.search", trace.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Int("top_k", topK),
	))
	defer s.finishSearch(ctx, tenant, span, start, &results, &err)

	key := CacheKey(query, topK, s.minScore)
	if cached, ok := s.lookup(ctx, tenant, key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}
	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.searchMatches(ctx, tenant, vector, topK)
	if err != nil {
		return nil, err
	}
	results = s.filter(matches)
	s.remember(ctx, tenant, key, results)
	return results, nil
}

// SearchBestEffort never fails: errors are logged and reported as no
// results so callers can fall back to knowledge.NoMaterialsMessage.
func (s *Service) SearchBestEffort(ctx context.Context, tenant, query string, topK int) []knowledge.Result {
	results, err := s.Search(ctx, tenant, query, topK)
	if err != nil {
		logger.FromContext(ctx).Warn("Retrieval failed; continuing without materials", "tenant", tenant, "error", err)
		return []knowledge.Result{}
	}
	return results
}

// InvalidateTenant drops every cached result of tenant.
func (s *Service) InvalidateTenant(ctx context.Context, tenant string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateTenant(ctx, tenant)
}

func (s *Service) lookup(ctx context.Context, tenant, key string) ([]knowledge.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	cached, ok, err := s.cache.Get(ctx, tenant, key)
	if err != nil {
		logger.FromContext(ctx).Warn("Retrieval cache lookup failed", "tenant", tenant, "error", err)
		ok = false
	}
	knowledge.RecordCacheLookup(ctx, tenant, ok)
	return cached, ok
}

func (s *Service) remember(ctx context.Context, tenant, key string, results []knowledge.Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, tenant, key, results); err != nil {
		logger.FromContext(ctx).Warn("Retrieval cache write failed", "tenant", tenant, "error", err)
	}
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "tutorrag.knowledge.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.Embed(spanCtx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vector, nil
}

func (s *Service) searchMatches(
	ctx context.Context,
	tenant string,
	vector []float32,
	topK int,
) ([]vectordb.Match, error) {
	spanCtx, span := s.tracer.Start(ctx, "tutorrag.knowledge.retriever.vector_search", trace.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Int("top_k", topK),
	))
	defer span.End()
	matches, err := s.store.Search(spanCtx, tenant, vector, vectordb.SearchOptions{TopK: topK})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

func (s *Service) filter(matches []vectordb.Match) []knowledge.Result {
	sortMatches(matches)
	results := make([]knowledge.Result, 0, len(matches))
	for i := range matches {
		// NaN scores (zero-norm query vectors) never pass.
		if !(matches[i].Score >= s.minScore) {
			continue
		}
		results = append(results, knowledge.Result{
			ID:       matches[i].ID,
			Text:     matches[i].Text,
			Score:    matches[i].Score,
			Metadata: matches[i].Metadata,
		})
	}
	return knowledge.CloneResults(results)
}

func (s *Service) finishSearch(
	ctx context.Context,
	tenant string,
	span trace.Span,
	start time.Time,
	results *[]knowledge.Result,
	runErr *error,
) {
	duration := time.Since(start)
	knowledge.RecordQueryLatency(ctx, tenant, duration)
	log := logger.FromContext(ctx).With("tenant", tenant)
	if runErr != nil && *runErr != nil {
		err := *runErr
		log.Error("Retrieval failed", "error", err, "duration_seconds", duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := len(*results)
	if total == 0 {
		knowledge.RecordRetrievalEmpty(ctx, tenant)
	}
	log.Debug("Retrieval finished", "results", total, "duration_seconds", duration.Seconds())
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}

func sortMatches(matches []vectordb.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}
