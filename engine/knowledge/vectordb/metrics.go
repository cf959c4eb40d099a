package vectordb

import (
	"context"
	"strings"
	"sync"
	"time"

	monitoringmetrics "github.com/compozy/tutorrag/engine/infra/monitoring/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const labelUnknownValue = "unknown"

var (
	vectorMetricsOnce       sync.Once
	vectorMetricsErr        error
	vectorSearchLatency     metric.Float64Histogram
	vectorResultsCount      metric.Float64Histogram
	vectorMinDistance       metric.Float64Histogram
	vectorActiveConnections metric.Int64ObservableGauge
	vectorErrorsTotal       metric.Int64Counter
	vectorPools             sync.Map
)

// ensureVectorMetrics lazily initializes the instruments on the global meter provider.
func ensureVectorMetrics() error {
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("tutorrag.knowledge.vector")
		if err := initVectorHistograms(meter); err != nil {
			vectorMetricsErr = err
			return
		}
		if err := initVectorCounters(meter); err != nil {
			vectorMetricsErr = err
			return
		}
		vectorMetricsErr = initVectorGauge(meter)
	})
	return vectorMetricsErr
}

func initVectorHistograms(meter metric.Meter) error {
	var err error
	vectorSearchLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_search_seconds"),
		metric.WithDescription("Vector similarity search latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2),
	)
	if err != nil {
		return err
	}
	vectorResultsCount, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_results_per_search"),
		metric.WithDescription("Number of results returned per search"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 200),
	)
	if err != nil {
		return err
	}
	vectorMinDistance, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_distance_min"),
		metric.WithDescription("Cosine distance of the top result"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	return err
}

func initVectorCounters(meter metric.Meter) error {
	var err error
	vectorErrorsTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "store_errors_total"),
		metric.WithDescription("Vector store operation errors"),
	)
	return err
}

func initVectorGauge(meter metric.Meter) error {
	var err error
	vectorActiveConnections, err = meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "store_connections_active"),
		metric.WithDescription("Acquired vector database connections"),
	)
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		vectorPools.Range(func(key, value any) bool {
			pool, ok := value.(*pgxpool.Pool)
			if !ok || pool == nil {
				return true
			}
			table, _ := key.(string)
			observer.ObserveInt64(
				vectorActiveConnections,
				int64(pool.Stat().AcquiredConns()),
				metric.WithAttributes(attribute.String("table", sanitizeLabel(table, labelUnknownValue))),
			)
			return true
		})
		return nil
	}, vectorActiveConnections)
	return err
}

// recordVectorSearch captures latency, result counts and distance of the best hit.
func recordVectorSearch(
	ctx context.Context,
	indexType string,
	topK int,
	duration time.Duration,
	resultCount int,
	minDistance float64,
	includeDistance bool,
) {
	if err := ensureVectorMetrics(); err != nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("index_type", sanitizeLabel(indexType, labelUnknownValue)),
		attribute.Int("top_k", topK),
	)
	vectorSearchLatency.Record(ctx, duration.Seconds(), labels)
	vectorResultsCount.Record(ctx, float64(resultCount), labels)
	if includeDistance && resultCount > 0 {
		vectorMinDistance.Record(ctx, minDistance, labels)
	}
}

func recordVectorError(ctx context.Context, operation string, errorType string) {
	if err := ensureVectorMetrics(); err != nil || vectorErrorsTotal == nil {
		return
	}
	vectorErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", sanitizeLabel(operation, labelUnknownValue)),
		attribute.String("error_type", sanitizeLabel(errorType, labelUnknownValue)),
	))
}

func trackVectorPool(table string, pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	if err := ensureVectorMetrics(); err != nil {
		return
	}
	vectorPools.Store(sanitizeLabel(table, labelUnknownValue), pool)
}

func untrackVectorPool(table string) {
	vectorPools.Delete(sanitizeLabel(table, labelUnknownValue))
}

func sanitizeLabel(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return strings.ToLower(trimmed)
}
