package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/compozy/tutorrag/engine/infra/monitoring/metrics"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newInstruments(ctx context.Context, meter metric.Meter) *instruments {
	log := logger.FromContext(ctx)
	total, err := meter.Int64Counter(
		metrics.MetricNameWithSubsystem("http", "requests_total"),
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		log.Error("Failed to create http requests total counter", "error", err)
		return nil
	}
	duration, err := meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("http", "request_duration_seconds"),
		metric.WithDescription("HTTP request latency"),
		metric.WithExplicitBucketBoundaries(metrics.HTTPDurationBuckets...),
	)
	if err != nil {
		log.Error("Failed to create http request duration histogram", "error", err)
		return nil
	}
	inFlight, err := meter.Int64UpDownCounter(
		metrics.MetricNameWithSubsystem("http", "requests_in_flight"),
		metric.WithDescription("Currently active HTTP requests"),
	)
	if err != nil {
		log.Error("Failed to create http requests in flight counter", "error", err)
		return nil
	}
	return &instruments{total: total, duration: duration, inFlight: inFlight}
}

// HTTPMetrics returns a Gin middleware that collects HTTP metrics
func HTTPMetrics(ctx context.Context, meter metric.Meter) gin.HandlerFunc {
	inst := newInstruments(ctx, meter)
	return func(c *gin.Context) {
		if inst == nil {
			c.Next()
			return
		}
		reqCtx := c.Request.Context()
		start := time.Now()
		inst.inFlight.Add(reqCtx, 1)
		defer inst.inFlight.Add(reqCtx, -1)
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)
		inst.total.Add(reqCtx, 1, attrs)
		inst.duration.Record(reqCtx, time.Since(start).Seconds(), attrs)
	}
}
