package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"github.com/compozy/tutorrag/engine/infra/monitoring/middleware"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Service owns the meter provider backing every knowledge and HTTP instrument.
type Service struct {
	meter       metric.Meter
	provider    *sdkmetric.MeterProvider
	registry    *prom.Registry
	config      *Config
	initialized bool
}

// NewService builds a Prometheus-backed meter provider. When monitoring is
// disabled the service hands out a no-op meter and /metrics answers 503.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Monitoring disabled, using no-op meter")
		return &Service{config: cfg, meter: noop.NewMeterProvider().Meter("tutorrag")}, nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("tutorrag")
	InitSystemMetrics(ctx, meter)
	log.Info("Monitoring service initialized")
	return &Service{
		meter:       meter,
		provider:    provider,
		registry:    registry,
		config:      cfg,
		initialized: true,
	}, nil
}

func (s *Service) Meter() metric.Meter {
	return s.meter
}

func (s *Service) Path() string {
	return s.config.Path
}

func (s *Service) IsInitialized() bool {
	return s.initialized
}

// SetAsGlobal installs the provider globally so package-level instruments
// created through otel.GetMeterProvider report through this exporter.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}

// GinMiddleware records request counts and latencies.
func (s *Service) GinMiddleware(ctx context.Context) gin.HandlerFunc {
	if !s.initialized {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return middleware.HTTPMetrics(ctx, s.meter)
}

// ExporterHandler serves the Prometheus exposition format.
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
				logger.FromContext(r.Context()).Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.provider != nil {
		return s.provider.Shutdown(ctx)
	}
	return nil
}
