package metrics

// HTTPDurationBuckets defines latency buckets for HTTP request duration metrics.
var HTTPDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// EmbeddingDurationBuckets covers local model calls through slow remote round trips.
var EmbeddingDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
