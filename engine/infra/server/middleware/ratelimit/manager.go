package ratelimit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/compozy/tutorrag/engine/infra/monitoring/metrics"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Manager applies one rate to every tenant/client pair.
type Manager struct {
	config  *Config
	limiter *limiter.Limiter
	blocked metric.Int64Counter
}

// NewManager builds a limiter backed by Redis when client is non-nil and the
// store is redis, in memory otherwise.
func NewManager(cfg *Config, client redis.UniversalClient) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := newStore(cfg, client)
	if err != nil {
		return nil, err
	}
	blocked, err := otel.GetMeterProvider().Meter("tutorrag.ratelimit").Int64Counter(
		metrics.MetricName("rate_limit_blocks_total"),
		metric.WithDescription("Total number of requests blocked by rate limiting"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return &Manager{
		config:  cfg,
		limiter: limiter.New(store, cfg.Rate.ToLimiterRate()),
		blocked: blocked,
	}, nil
}

func newStore(cfg *Config, client redis.UniversalClient) (limiter.Store, error) {
	opts := limiter.StoreOptions{
		Prefix:          cfg.Prefix,
		MaxRetry:        cfg.MaxRetry,
		CleanUpInterval: cfg.CleanUpInterval,
	}
	if cfg.Store != StoreRedis {
		return memory.NewStoreWithOptions(opts), nil
	}
	if client == nil {
		return nil, errors.New("ratelimit: redis store requires a client")
	}
	return sredis.NewStoreWithOptions(client, opts)
}

// Middleware limits requests keyed by tenant and client IP. Store failures
// let the request through.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("tenant") + ":" + c.ClientIP()
		lctx, err := m.limiter.Get(c.Request.Context(), key)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("Rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		c.Header(HeaderLimit, strconv.FormatInt(lctx.Limit, 10))
		c.Header(HeaderRemaining, strconv.FormatInt(lctx.Remaining, 10))
		c.Header(HeaderReset, strconv.FormatInt(lctx.Reset, 10))
		if lctx.Reached {
			m.blocked.Add(c.Request.Context(), 1, metric.WithAttributes(
				attribute.String("route", c.FullPath()),
				attribute.String("tenant", c.Param("tenant")),
			))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"title":  http.StatusText(http.StatusTooManyRequests),
				"status": http.StatusTooManyRequests,
				"detail": "rate limit exceeded, retry after the reset time",
			})
			return
		}
		c.Next()
	}
}
