package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/compozy/tutorrag/engine/infra/monitoring"
	"github.com/compozy/tutorrag/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/tutorrag/pkg/config"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	APIPrefix             = "/api/v0"
	maxBodyBytes          = 1 << 20
	httpReadTimeout       = 15 * time.Second
	httpWriteTimeout      = 5 * time.Minute
	httpIdleTimeout       = 60 * time.Second
	serverShutdownTimeout = 10 * time.Second
)

// Dependencies are the services the HTTP API fronts. Health is optional and
// backs /healthz; RateLimit is optional and guards tenant routes.
type Dependencies struct {
	Ingestor   Ingestor
	Searcher   Searcher
	Monitoring *monitoring.Service
	RateLimit  *ratelimit.Manager
	Health     func(context.Context) error
}

type Server struct {
	config *config.ServerConfig
	router *gin.Engine
}

func New(ctx context.Context, cfg *config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Ingestor == nil || deps.Searcher == nil {
		return nil, errNotConfigured
	}
	if cfg == nil {
		cfg = &config.Default().Server
	}
	return &Server{config: cfg, router: buildRouter(ctx, deps)}, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

func buildRouter(ctx context.Context, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.Use(gin.Recovery(), LoggerMiddleware(logger.FromContext(ctx)))
	if deps.Monitoring != nil {
		router.Use(deps.Monitoring.GinMiddleware(ctx))
		router.GET(deps.Monitoring.Path(), gin.WrapH(deps.Monitoring.ExporterHandler()))
	}
	router.GET("/healthz", healthHandler(deps.Health))
	api := router.Group(APIPrefix, BodySizeLimiter(maxBodyBytes))
	tenants := api.Group("/tenants/:tenant")
	if deps.RateLimit != nil {
		tenants.Use(deps.RateLimit.Middleware())
	}
	tenants.POST("/search", searchHandler(deps.Searcher))
	tenants.POST("/ingest", ingestAllHandler(deps.Ingestor))
	tenants.POST("/files/:file/ingest", ingestFileHandler(deps.Ingestor))
	tenants.DELETE("/files/:file", removeFileHandler(deps.Ingestor))
	return router
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = httpReadTimeout
	}
	srv := &http.Server{
		Addr:              s.Address(),
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Debug("Shutdown requested, draining HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server shutdown completed")
	return nil
}
