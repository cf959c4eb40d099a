package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/tutorrag/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsMu            sync.Mutex
	metricsInitErr       error
	ingestDurationHist   metric.Float64Histogram
	chunkCounter         metric.Int64Counter
	ingestFailureCounter metric.Int64Counter
	queryLatencyHist     metric.Float64Histogram
	cacheLookupCounter   metric.Int64Counter
	retrievalEmptyCount  metric.Int64Counter
	embedFallbackCounter metric.Int64Counter
	embedDurationHist    metric.Float64Histogram
)

func RecordIngestDuration(ctx context.Context, tenant string, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	ingestDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tenant", tenant)))
}

func RecordIngestChunks(ctx context.Context, tenant string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("tenant", tenant)))
}

func RecordIngestFailure(ctx context.Context, tenant string, reason string) {
	if err := ensureMetrics(); err != nil || ingestFailureCounter == nil {
		return
	}
	ingestFailureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("reason", reason),
	))
}

func RecordQueryLatency(ctx context.Context, tenant string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tenant", tenant)))
}

func RecordCacheLookup(ctx context.Context, tenant string, hit bool) {
	if err := ensureMetrics(); err != nil || cacheLookupCounter == nil {
		return
	}
	cacheLookupCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Bool("hit", hit),
	))
}

func RecordRetrievalEmpty(ctx context.Context, tenant string) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCount == nil {
		return
	}
	retrievalEmptyCount.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}

// RecordEmbedFallback counts provider attempts that failed over to the next provider.
func RecordEmbedFallback(ctx context.Context, provider string) {
	if err := ensureMetrics(); err != nil || embedFallbackCounter == nil {
		return
	}
	embedFallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordEmbedDuration tracks one provider call, successful or not.
func RecordEmbedDuration(ctx context.Context, provider string, d time.Duration, ok bool) {
	if err := ensureMetrics(); err != nil || embedDurationHist == nil {
		return
	}
	embedDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", ok),
	))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	chunkCounter = nil
	ingestFailureCounter = nil
	queryLatencyHist = nil
	cacheLookupCounter = nil
	retrievalEmptyCount = nil
	embedFallbackCounter = nil
	embedDurationHist = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("tutorrag.knowledge")
		if err := initIngestMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		if err := initRetrievalMetrics(meter); err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

func initIngestMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "ingest_duration_seconds"),
		metric.WithDescription("Latency of single-file ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "chunks_total"),
		metric.WithDescription("Number of chunks persisted by ingestion"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	ingestFailureCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "ingest_failures_total"),
		metric.WithDescription("Number of files that failed ingestion, by reason"),
		metric.WithUnit("1"),
	)
	return err
}

func initRetrievalMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "query_latency_seconds"),
		metric.WithDescription("Latency of retrieval queries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}
	cacheLookupCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "cache_lookups_total"),
		metric.WithDescription("Retrieval cache lookups by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCount, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "retrieval_empty_total"),
		metric.WithDescription("Retrievals that returned no result above the relevance threshold"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	embedFallbackCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "embed_fallback_total"),
		metric.WithDescription("Embedding provider failures that fell through to the next provider"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	embedDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "embed_duration_seconds"),
		metric.WithDescription("Latency of embedding provider calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.EmbeddingDurationBuckets...),
	)
	return err
}
