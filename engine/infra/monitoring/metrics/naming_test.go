package metrics

import "testing"

func TestMetricName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "adds prefix", input: "requests_total", expected: "tutorrag_requests_total"},
		{name: "keeps prefixed", input: "tutorrag_custom_metric", expected: "tutorrag_custom_metric"},
		{name: "blank returns prefix", input: "", expected: "tutorrag_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MetricName(tt.input); got != tt.expected {
				t.Fatalf("MetricName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMetricNameWithSubsystem(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		subsystem  string
		metricName string
		expected   string
	}{
		{name: "subsystem and name", subsystem: "knowledge", metricName: "chunks_total", expected: "tutorrag_knowledge_chunks_total"},
		{name: "subsystem trims underscore", subsystem: "_vectordb_", metricName: "errors_total", expected: "tutorrag_vectordb_errors_total"},
		{name: "empty name", subsystem: "retrieval", metricName: "", expected: "tutorrag_retrieval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MetricNameWithSubsystem(tt.subsystem, tt.metricName); got != tt.expected {
				t.Fatalf("MetricNameWithSubsystem(%q, %q) = %q, want %q", tt.subsystem, tt.metricName, got, tt.expected)
			}
		})
	}
}
