package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics(t *testing.T) {
	t.Run("Should record requests by route template and status", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.Use(HTTPMetrics(t.Context(), provider.Meter("test")))
		router.POST("/api/v0/tenants/:tenant/search", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		for range 2 {
			req := httptest.NewRequest(http.MethodPost, "/api/v0/tenants/bio101/search", http.NoBody)
			router.ServeHTTP(httptest.NewRecorder(), req)
		}
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", http.NoBody))

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(t.Context(), &rm))
		counts := map[string]int64{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "tutorrag_http_requests_total" {
					continue
				}
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					path, _ := dp.Attributes.Value(attribute.Key("path"))
					counts[path.AsString()] += dp.Value
				}
			}
		}
		assert.Equal(t, int64(2), counts["/api/v0/tenants/:tenant/search"])
		assert.Equal(t, int64(1), counts["unmatched"])
	})
}
