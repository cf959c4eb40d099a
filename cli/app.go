package cli

import (
	"context"
	"errors"

	"github.com/compozy/tutorrag/engine/core"
	"github.com/compozy/tutorrag/engine/infra/monitoring"
	"github.com/compozy/tutorrag/engine/knowledge/chunk"
	"github.com/compozy/tutorrag/engine/knowledge/embedder"
	"github.com/compozy/tutorrag/engine/knowledge/fileindex"
	"github.com/compozy/tutorrag/engine/knowledge/ingest"
	"github.com/compozy/tutorrag/engine/knowledge/retriever"
	"github.com/compozy/tutorrag/engine/knowledge/vectordb"
	"github.com/compozy/tutorrag/pkg/config"
	"github.com/compozy/tutorrag/pkg/logger"
)

// App holds the wired services for one process.
type App struct {
	Config     *config.Config
	Store      vectordb.Store
	Embedder   *embedder.Gateway
	Pipeline   *ingest.Pipeline
	Retriever  *retriever.Service
	Monitoring *monitoring.Service
	closers    []func(context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// NewApp builds the store, embedding gateway, cache, pipeline and retriever
// described by cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}
	if err := app.wire(ctx); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	logger.FromContext(ctx).Debug("Application wired",
		"vector_store", cfg.VectorStore.Provider,
		"cache", cfg.Retrieval.Cache,
		"materials_root", cfg.Materials.Root,
	)
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	var err error
	a.Monitoring, err = monitoring.NewService(ctx, monitoring.ConfigFromApp(cfg))
	if err != nil {
		return err
	}
	a.Monitoring.SetAsGlobal()
	a.closers = append(a.closers, a.Monitoring.Shutdown)

	a.Store, err = vectordb.New(vectordb.ConfigFromApp(cfg))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store.Close)

	a.Embedder, err = embedder.FromConfig(&cfg.Embedding)
	if err != nil {
		return err
	}
	cache, closeCache, err := retriever.CacheFromConfig(cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeCache() })

	a.Retriever, err = retriever.ServiceFromConfig(cfg, a.Embedder, a.Store, cache)
	if err != nil {
		return err
	}
	tok, err := chunk.NewTiktokenTokenizer(cfg.Chunking.Encoding)
	if err != nil {
		return err
	}
	opts := ingest.OptionsFromConfig(cfg)
	opts.Tokenizer = tok
	opts.Cache = a.Retriever
	opts.IDs, err = core.IDGeneratorFor(cfg.Materials.IDStrategy)
	if err != nil {
		return err
	}
	a.Pipeline, err = ingest.NewPipeline(a.Embedder, a.Store, fileindex.New(cfg.Materials.Root), opts)
	if err != nil {
		return err
	}
	return nil
}

// Health reports whether the vector store is reachable.
func (a *App) Health(ctx context.Context) error {
	if p, ok := a.Store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp runs fn with an App built from the command context configuration.
func withApp(ctx context.Context, fn func(context.Context, *App) error) error {
	app, err := NewApp(ctx, config.FromContext(ctx))
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Warn("Failed to release resources", "error", err)
		}
	}()
	return fn(ctx, app)
}
