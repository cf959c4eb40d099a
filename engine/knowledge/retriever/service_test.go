package retriever_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/engine/knowledge/retriever"
	"github.com/compozy/tutorrag/engine/knowledge/vectordb"
)

type stubEmbedder struct {
	calls  atomic.Int32
	vector []float32
	fail   bool
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.Join(knowledge.ErrEmbeddingUnavailable, errors.New("all providers down"))
	}
	return append([]float32(nil), s.vector...), nil
}

func (s *stubEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func record(id, source string, vec ...float32) vectordb.Record {
	return vectordb.Record{
		ID:        id,
		Text:      "text of " + id,
		Embedding: vec,
		Metadata:  map[string]any{knowledge.MetaSource: source},
	}
}

func newService(t *testing.T, cache retriever.Cache, minScore float64) (*retriever.Service, *stubEmbedder, *vectordb.MemoryStore) {
	t.Helper()
	store := vectordb.NewMemoryStore(3)
	emb := &stubEmbedder{vector: []float32{1, 0, 0}}
	svc, err := retriever.NewService(emb, store, retriever.Options{MinScore: minScore, Cache: cache})
	require.NoError(t, err)
	return svc, emb, store
}

func TestService_Search(t *testing.T) {
	t.Run("Should rank by score and drop results below the threshold", func(t *testing.T) {
		svc, _, store := newService(t, nil, 0.3)
		require.NoError(t, store.Upsert(t.Context(), "bio101", []vectordb.Record{
			record("far", "a.md", 0, 1, 0),
			record("near", "a.md", 0.9, 0.1, 0),
			record("exact", "b.md", 1, 0, 0),
		}))

		results, err := svc.Search(t.Context(), "bio101", "what is a cell", 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "exact", results[0].ID)
		assert.Equal(t, "near", results[1].ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, "b.md", results[0].Metadata[knowledge.MetaSource])
	})

	t.Run("Should default topK to five", func(t *testing.T) {
		svc, _, store := newService(t, nil, -1)
		recs := make([]vectordb.Record, 0, 7)
		for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
			recs = append(recs, record(id, "a.md", 1, 0.1, 0))
		}
		require.NoError(t, store.Upsert(t.Context(), "bio101", recs))

		results, err := svc.Search(t.Context(), "bio101", "question", 0)
		require.NoError(t, err)
		assert.Len(t, results, knowledge.DefaultTopK)
	})

	t.Run("Should return an empty list for a blank query or tenant", func(t *testing.T) {
		svc, emb, _ := newService(t, nil, 0)
		results, err := svc.Search(t.Context(), "", "question", 3)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
		results, err = svc.Search(t.Context(), "bio101", "   ", 3)
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Zero(t, emb.calls.Load())
	})

	t.Run("Should reject an unsafe tenant", func(t *testing.T) {
		svc, _, _ := newService(t, nil, 0)
		_, err := svc.Search(t.Context(), "../etc", "question", 3)
		assert.ErrorIs(t, err, knowledge.ErrInvalidTenant)
	})

	t.Run("Should only see the requested tenant", func(t *testing.T) {
		svc, _, store := newService(t, nil, 0)
		require.NoError(t, store.Upsert(t.Context(), "chem200", []vectordb.Record{record("x", "a.md", 1, 0, 0)}))
		results, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("Should drop matches with an undefined score", func(t *testing.T) {
		store := &nanStore{Store: vectordb.NewMemoryStore(3)}
		svc, err := retriever.NewService(&stubEmbedder{vector: []float32{0, 0, 0}}, store, retriever.Options{MinScore: 0.3})
		require.NoError(t, err)
		results, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "scored", results[0].ID)
	})

	t.Run("Should propagate embedding failures", func(t *testing.T) {
		svc, emb, _ := newService(t, nil, 0)
		emb.fail = true
		_, err := svc.Search(t.Context(), "bio101", "question", 3)
		assert.ErrorIs(t, err, knowledge.ErrEmbeddingUnavailable)
	})
}

func TestService_Cache(t *testing.T) {
	newCache := func(t *testing.T) *retriever.LRUCache {
		cache, err := retriever.NewLRUCache(16, 0)
		require.NoError(t, err)
		return cache
	}

	t.Run("Should serve repeated queries from the cache", func(t *testing.T) {
		svc, emb, store := newService(t, newCache(t), 0)
		require.NoError(t, store.Upsert(t.Context(), "bio101", []vectordb.Record{record("a", "a.md", 1, 0, 0)}))

		first, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		first[0].Text = "mutated"
		first[0].Metadata[knowledge.MetaSource] = "mutated"

		second, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		assert.EqualValues(t, 1, emb.calls.Load())
		assert.Equal(t, "text of a", second[0].Text)
		assert.Equal(t, "a.md", second[0].Metadata[knowledge.MetaSource])
	})

	t.Run("Should key entries by topK", func(t *testing.T) {
		svc, emb, _ := newService(t, newCache(t), 0)
		_, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		_, err = svc.Search(t.Context(), "bio101", "question", 4)
		require.NoError(t, err)
		assert.EqualValues(t, 2, emb.calls.Load())
	})

	t.Run("Should recompute after the tenant is invalidated", func(t *testing.T) {
		svc, emb, store := newService(t, newCache(t), 0)
		_, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(t.Context(), "bio101", []vectordb.Record{record("a", "a.md", 1, 0, 0)}))
		require.NoError(t, svc.InvalidateTenant(t.Context(), "bio101"))

		results, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		assert.Len(t, results, 1)
		assert.EqualValues(t, 2, emb.calls.Load())
	})

	t.Run("Should keep thresholds apart on a shared cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		shared, err := retriever.NewRedisCache(client, "tutorrag:", 0)
		require.NoError(t, err)

		for _, cache := range []retriever.Cache{newCache(t), shared} {
			store := vectordb.NewMemoryStore(3)
			require.NoError(t, store.Upsert(t.Context(), "bio101", []vectordb.Record{
				record("exact", "a.md", 1, 0, 0),
				record("near", "a.md", 1, 1, 0),
			}))
			emb := &stubEmbedder{vector: []float32{1, 0, 0}}
			loose, err := retriever.NewService(emb, store, retriever.Options{MinScore: 0, Cache: cache})
			require.NoError(t, err)
			strict, err := retriever.NewService(emb, store, retriever.Options{MinScore: 0.9, Cache: cache})
			require.NoError(t, err)

			all, err := loose.Search(t.Context(), "bio101", "question", 3)
			require.NoError(t, err)
			require.Len(t, all, 2)

			filtered, err := strict.Search(t.Context(), "bio101", "question", 3)
			require.NoError(t, err)
			require.Len(t, filtered, 1)
			assert.Equal(t, "exact", filtered[0].ID)
			for _, res := range filtered {
				assert.GreaterOrEqual(t, res.Score, 0.9)
			}
		}
	})

	t.Run("Should not cache failures", func(t *testing.T) {
		svc, emb, _ := newService(t, newCache(t), 0)
		emb.fail = true
		_, err := svc.Search(t.Context(), "bio101", "question", 3)
		require.Error(t, err)
		emb.fail = false
		_, err = svc.Search(t.Context(), "bio101", "question", 3)
		require.NoError(t, err)
		assert.EqualValues(t, 2, emb.calls.Load())
	})
}

type nanStore struct {
	vectordb.Store
}

func (s *nanStore) Search(context.Context, string, []float32, vectordb.SearchOptions) ([]vectordb.Match, error) {
	return []vectordb.Match{
		{ID: "undefined", Text: "zero norm", Score: math.NaN()},
		{ID: "scored", Text: "scored", Score: 0.8},
	}, nil
}

func TestService_SearchBestEffort(t *testing.T) {
	t.Run("Should swallow failures and return no results", func(t *testing.T) {
		svc, emb, _ := newService(t, nil, 0)
		emb.fail = true
		results := svc.SearchBestEffort(t.Context(), "bio101", "question", 3)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})
}

func TestNewService(t *testing.T) {
	t.Run("Should require an embedder and a store", func(t *testing.T) {
		_, err := retriever.NewService(nil, vectordb.NewMemoryStore(3), retriever.Options{})
		assert.Error(t, err)
		_, err = retriever.NewService(&stubEmbedder{}, nil, retriever.Options{})
		assert.Error(t, err)
	})
}
