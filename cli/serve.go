package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/compozy/tutorrag/engine/infra/server"
	"github.com/compozy/tutorrag/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/tutorrag/engine/knowledge/retriever"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// ServeCmd starts the HTTP API.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search and ingestion HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, app *App) error {
				limiter, err := app.rateLimiter(ctx)
				if err != nil {
					return err
				}
				srv, err := server.New(ctx, &app.Config.Server, server.Dependencies{
					Ingestor:   app.Pipeline,
					Searcher:   app.Retriever,
					Monitoring: app.Monitoring,
					RateLimit:  limiter,
					Health:     app.Health,
				})
				if err != nil {
					return err
				}
				return srv.Run(ctx)
			})
		},
	}
	cmd.Flags().String("host", "", "Address to bind")
	cmd.Flags().Int("port", 0, "Port to listen on")
	return cmd
}

// rateLimiter returns nil when rate limiting is disabled.
func (a *App) rateLimiter(ctx context.Context) (*ratelimit.Manager, error) {
	rl := a.Config.Server.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	var client redis.UniversalClient
	if rl.Store == ratelimit.StoreRedis {
		c, err := retriever.NewRedisClient(&a.Config.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
		client = c
	}
	m, err := ratelimit.NewManager(ratelimit.ConfigFromApp(a.Config), client)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("Rate limiting enabled", "limit", rl.Limit, "period", rl.Period, "store", rl.Store)
	return m, nil
}
