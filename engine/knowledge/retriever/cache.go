package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/compozy/tutorrag/engine/knowledge"
)

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Cache stores filtered retrieval results per tenant. Implementations must
// hand out copies so callers can never mutate a cached entry.
type Cache interface {
	Get(ctx context.Context, tenant, key string) ([]knowledge.Result, bool, error)
	Set(ctx context.Context, tenant, key string, results []knowledge.Result) error
	Evict(ctx context.Context, tenant, key string) error
	InvalidateTenant(ctx context.Context, tenant string) error
}

// CacheKey hashes the query text together with topK and the score threshold
// the cached list was filtered with.
func CacheKey(query string, topK int, minScore float64) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(minScore, 'g', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

// LRUCache is the process-local cache. A zero TTL keeps entries until they
// are evicted by size or invalidation.
type LRUCache struct {
	entries *expirable.LRU[string, []knowledge.Result]
}

func NewLRUCache(size int, ttl time.Duration) (*LRUCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("retriever: cache size must be greater than zero")
	}
	return &LRUCache{entries: expirable.NewLRU[string, []knowledge.Result](size, nil, ttl)}, nil
}

func lruKey(tenant, key string) string {
	return tenant + "\x00" + key
}

func (c *LRUCache) Get(_ context.Context, tenant, key string) ([]knowledge.Result, bool, error) {
	results, ok := c.entries.Get(lruKey(tenant, key))
	if !ok {
		return nil, false, nil
	}
	return knowledge.CloneResults(results), true, nil
}

func (c *LRUCache) Set(_ context.Context, tenant, key string, results []knowledge.Result) error {
	stored := knowledge.CloneResults(results)
	if stored == nil {
		stored = []knowledge.Result{}
	}
	c.entries.Add(lruKey(tenant, key), stored)
	return nil
}

func (c *LRUCache) Evict(_ context.Context, tenant, key string) error {
	c.entries.Remove(lruKey(tenant, key))
	return nil
}

func (c *LRUCache) InvalidateTenant(_ context.Context, tenant string) error {
	prefix := tenant + "\x00"
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
	return nil
}

// Len reports the number of live entries across all tenants.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}
