package ingest

import (
	"time"

	"github.com/compozy/tutorrag/engine/core"
	"github.com/compozy/tutorrag/engine/knowledge/chunk"
	appconfig "github.com/compozy/tutorrag/pkg/config"
)

const (
	defaultWorkers      = 4
	defaultBatchSize    = 16
	defaultMaxFileBytes = 32 << 20
)

// Options controls ingestion execution details.
type Options struct {
	// Root is the materials root holding one directory per tenant.
	Root      string
	Chunking  chunk.Settings
	Tokenizer chunk.Tokenizer
	IDs       core.IDGenerator
	Cache     CacheInvalidator
	// Workers bounds concurrent embedding batches within one file.
	Workers      int
	BatchSize    int
	MaxFileBytes int64
	Retry        RetrySettings
}

// RetrySettings configures caller-level retries around embedding and persistence.
type RetrySettings struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// OptionsFromConfig maps application settings onto pipeline options. The
// tokenizer, id generator and cache invalidator are left for the caller.
func OptionsFromConfig(cfg *appconfig.Config) Options {
	return Options{
		Root: cfg.Materials.Root,
		Chunking: chunk.Settings{
			Strategy:          cfg.Chunking.Strategy,
			Size:              cfg.Chunking.Size,
			Overlap:           cfg.Chunking.Overlap,
			NormalizeNewlines: true,
		},
		Workers:      cfg.Materials.Workers,
		MaxFileBytes: cfg.Materials.MaxFileBytes,
		Retry: RetrySettings{
			Attempts:   cfg.Materials.RetryAttempts,
			Backoff:    cfg.Materials.RetryBackoff,
			MaxBackoff: cfg.Materials.RetryMaxBackoff,
		},
	}
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = defaultMaxFileBytes
	}
	if o.Retry.Attempts <= 0 {
		o.Retry.Attempts = 3
	}
	if o.Retry.Backoff <= 0 {
		o.Retry.Backoff = 200 * time.Millisecond
	}
	if o.Retry.MaxBackoff < o.Retry.Backoff {
		o.Retry.MaxBackoff = o.Retry.Backoff
	}
	if o.IDs == nil {
		o.IDs = core.NewContentIDGenerator()
	}
}
