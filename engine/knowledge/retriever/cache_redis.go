package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compozy/tutorrag/engine/knowledge"
	appconfig "github.com/compozy/tutorrag/pkg/config"
	"github.com/compozy/tutorrag/pkg/logger"
)

const (
	defaultRedisPrefix = "tutorrag:"
	scanBatch          = 256
)

// RedisClient is the subset of go-redis used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisCache shares retrieval results across replicas. Entries are JSON
// encoded under <prefix>retrieval:<tenant>:<key>.
type RedisCache struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client RedisClient, prefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("retriever: redis client is required")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// NewRedisClient opens a client from the URL when set, otherwise from the address.
func NewRedisClient(cfg *appconfig.RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("retriever: parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	if cfg.Addr == "" {
		return nil, errors.New("retriever: redis url or addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: string(cfg.Password),
		DB:       cfg.DB,
	}), nil
}

func (c *RedisCache) tenantPrefix(tenant string) string {
	return c.prefix + "retrieval:" + tenant + ":"
}

func (c *RedisCache) key(tenant, key string) string {
	return c.tenantPrefix(tenant) + key
}

func (c *RedisCache) Get(ctx context.Context, tenant, key string) ([]knowledge.Result, bool, error) {
	redisKey := c.key(tenant, key)
	raw, err := c.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("retriever: redis get: %w", err)
	}
	var results []knowledge.Result
	if err := json.Unmarshal(raw, &results); err != nil {
		logger.FromContext(ctx).Debug("Dropping undecodable cache entry", "cache_key", redisKey, "error", err)
		if delErr := c.client.Del(ctx, redisKey).Err(); delErr != nil {
			return nil, false, fmt.Errorf("retriever: redis del: %w", delErr)
		}
		return nil, false, nil
	}
	if results == nil {
		results = []knowledge.Result{}
	}
	return results, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tenant, key string, results []knowledge.Result) error {
	if results == nil {
		results = []knowledge.Result{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("retriever: encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(tenant, key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("retriever: redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Evict(ctx context.Context, tenant, key string) error {
	if err := c.client.Del(ctx, c.key(tenant, key)).Err(); err != nil {
		return fmt.Errorf("retriever: redis del: %w", err)
	}
	return nil
}

// InvalidateTenant scans the tenant's key space and deletes it batch by batch.
func (c *RedisCache) InvalidateTenant(ctx context.Context, tenant string) error {
	match := c.tenantPrefix(tenant) + "*"
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("retriever: redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("retriever: redis del: %w", err)
			}
			removed += len(keys)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	logger.FromContext(ctx).Debug("Retrieval cache invalidated", "tenant", tenant, "keys", removed)
	return nil
}
