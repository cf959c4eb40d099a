package retriever

import (
	"fmt"

	"github.com/compozy/tutorrag/engine/knowledge/embedder"
	"github.com/compozy/tutorrag/engine/knowledge/vectordb"
	appconfig "github.com/compozy/tutorrag/pkg/config"
)

// CacheFromConfig builds the configured retrieval cache. The returned close
// function releases the redis client when one was opened.
func CacheFromConfig(cfg *appconfig.Config) (Cache, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Retrieval.Cache {
	case "", CacheMemory:
		cache, err := NewLRUCache(cfg.Retrieval.CacheSize, cfg.Retrieval.CacheTTL)
		if err != nil {
			return nil, noop, err
		}
		return cache, noop, nil
	case CacheRedis:
		client, err := NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		cache, err := NewRedisCache(client, cfg.Redis.Prefix, cfg.Retrieval.CacheTTL)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return cache, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("retriever: unknown cache %q", cfg.Retrieval.Cache)
	}
}

// ServiceFromConfig wires a Service with the configured threshold and topK.
func ServiceFromConfig(
	cfg *appconfig.Config,
	emb embedder.Embedder,
	store vectordb.Store,
	cache Cache,
) (*Service, error) {
	return NewService(emb, store, Options{
		TopK:     cfg.Retrieval.TopK,
		MinScore: cfg.Retrieval.MinScore,
		Cache:    cache,
	})
}
