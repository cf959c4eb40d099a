package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/compozy/tutorrag/engine/core"
	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/engine/knowledge/chunk"
	"github.com/compozy/tutorrag/engine/knowledge/embedder"
	"github.com/compozy/tutorrag/engine/knowledge/fileindex"
	"github.com/compozy/tutorrag/engine/knowledge/vectordb"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// CacheInvalidator drops cached retrieval results for a tenant after its
// materials change.
type CacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenant string) error
}

// Pipeline turns tenant material files into stored chunk vectors and keeps the
// per-tenant file index in step with the vector store.
type Pipeline struct {
	layout    Layout
	embedder  embedder.Embedder
	store     vectordb.Store
	index     *fileindex.Index
	processor *chunk.Processor
	options   Options
}

// FileResult describes one ingested file.
type FileResult struct {
	File        string        `json:"file"`
	ContentType string        `json:"content_type"`
	Chunks      int           `json:"chunks"`
	IDs         []string      `json:"ids"`
	Duration    time.Duration `json:"duration"`
}

// FileFailure records a file that could not be ingested during IngestAll.
type FileFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
	err   error
}

// Err returns the underlying failure.
func (f FileFailure) Err() error {
	return f.err
}

// Report summarizes a bulk ingestion.
type Report struct {
	Tenant    string        `json:"tenant"`
	Succeeded []FileResult  `json:"succeeded"`
	Skipped   []string      `json:"skipped"`
	Failed    []FileFailure `json:"failed"`
}

func NewPipeline(
	emb embedder.Embedder,
	store vectordb.Store,
	index *fileindex.Index,
	opts Options,
) (*Pipeline, error) {
	if emb == nil {
		return nil, errors.New("knowledge: embedder implementation is required")
	}
	if store == nil {
		return nil, errors.New("knowledge: vector store is required")
	}
	if opts.Root == "" {
		return nil, errors.New("knowledge: materials root is required")
	}
	if opts.Tokenizer == nil {
		return nil, errors.New("knowledge: tokenizer is required")
	}
	opts.normalize()
	if index == nil {
		index = fileindex.New(opts.Root)
	}
	processor, err := chunk.NewProcessor(opts.Tokenizer, opts.Chunking)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		layout:    Layout{Root: filepath.Clean(opts.Root)},
		embedder:  emb,
		store:     store,
		index:     index,
		processor: processor,
		options:   opts,
	}, nil
}

// IngestFile extracts, chunks, embeds and stores one file, replacing any
// chunks previously stored for it. New vectors are computed before the old
// rows are touched, so a failure leaves the previous chunk set intact.
func (p *Pipeline) IngestFile(ctx context.Context, tenant, file string) (*FileResult, error) {
	start := time.Now()
	path, name, err := p.layout.FilePath(tenant, file)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("tenant", tenant, "file", name)
	if err := p.ensureInside(tenant, path); err != nil {
		return nil, err
	}
	extracted, err := extractFile(ctx, path, p.options.MaxFileBytes)
	if err != nil {
		return nil, err
	}
	chunks, err := p.processor.Process(chunk.Document{
		Source:      name,
		ContentType: extracted.ContentType,
		Text:        extracted.Text,
		Metadata:    map[string]any{knowledge.MetaTenant: tenant},
	})
	if err != nil {
		return nil, err
	}
	records, err := p.buildRecords(ctx, tenant, name, chunks)
	if err != nil {
		knowledge.RecordIngestFailure(ctx, tenant, failureReason(err))
		return nil, err
	}
	if err := p.withRetry(ctx, func(ctx context.Context) error {
		return p.store.ReplaceFile(ctx, tenant, name, records)
	}); err != nil {
		knowledge.RecordIngestFailure(ctx, tenant, failureReason(err))
		return nil, err
	}
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	if err := p.index.Put(ctx, tenant, name, ids); err != nil {
		knowledge.RecordIngestFailure(ctx, tenant, "index")
		return nil, err
	}
	p.invalidate(ctx, tenant)
	elapsed := time.Since(start)
	knowledge.RecordIngestDuration(ctx, tenant, elapsed)
	knowledge.RecordIngestChunks(ctx, tenant, len(records))
	log.Info("Material ingested", "chunks", len(records), "duration", elapsed)
	return &FileResult{
		File:        name,
		ContentType: extracted.ContentType,
		Chunks:      len(records),
		IDs:         ids,
		Duration:    elapsed,
	}, nil
}

// IngestAll ingests every supported file under the tenant directory. Files
// with unsupported extensions are skipped and per-file failures are reported
// without stopping the batch; only context cancellation aborts it.
func (p *Pipeline) IngestAll(ctx context.Context, tenant string) (*Report, error) {
	files, err := p.ListFiles(tenant)
	if err != nil {
		return nil, err
	}
	report := &Report{Tenant: tenant}
	log := logger.FromContext(ctx)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !Supported(file) {
			report.Skipped = append(report.Skipped, file)
			continue
		}
		res, err := p.IngestFile(ctx, tenant, file)
		switch {
		case err == nil:
			report.Succeeded = append(report.Succeeded, *res)
		case errors.Is(err, knowledge.ErrUnsupportedFormat):
			report.Skipped = append(report.Skipped, file)
		case ctx.Err() != nil:
			return report, ctx.Err()
		default:
			log.Warn("Material ingestion failed", "tenant", tenant, "file", file, "error", err)
			report.Failed = append(report.Failed, FileFailure{File: file, Error: err.Error(), err: err})
		}
	}
	return report, nil
}

// ListFiles returns the tenant's material files as slash-separated relative
// paths in lexical order, excluding index.json and the embeddings directory.
func (p *Pipeline) ListFiles(tenant string) ([]string, error) {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	dir := p.layout.TenantDir(tenant)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: stat tenant directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge: %s is not a directory", dir)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "**/*", doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("knowledge: enumerate %s: %w", dir, err)
	}
	files := make([]string, 0, len(matches))
	for _, rel := range matches {
		if reserved(rel) {
			continue
		}
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}

// RemoveFile drops the file's index entry and its stored chunks.
func (p *Pipeline) RemoveFile(ctx context.Context, tenant, file string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	name, err := CleanFileName(file)
	if err != nil {
		return err
	}
	if _, _, err := p.index.Remove(ctx, tenant, name); err != nil {
		return err
	}
	if err := p.store.DeleteByFile(ctx, tenant, name); err != nil {
		return err
	}
	p.invalidate(ctx, tenant)
	logger.FromContext(ctx).Info("Material removed", "tenant", tenant, "file", name)
	return nil
}

// RemoveTenant deletes every stored chunk and the file index of tenant.
// Material files on disk are left untouched.
func (p *Pipeline) RemoveTenant(ctx context.Context, tenant string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	if err := p.store.DeleteTenant(ctx, tenant); err != nil {
		return err
	}
	if err := p.index.Drop(ctx, tenant); err != nil {
		return err
	}
	p.invalidate(ctx, tenant)
	logger.FromContext(ctx).Info("Tenant materials removed", "tenant", tenant)
	return nil
}

func (p *Pipeline) ensureInside(tenant, path string) error {
	dir := p.layout.TenantDir(tenant)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: tenant directory %s", knowledge.ErrFileNotFound, dir)
	}
	inside, err := pathInside(dir, path)
	if err != nil {
		return err
	}
	if !inside {
		return fmt.Errorf("knowledge: %s escapes the tenant directory", path)
	}
	return nil
}

// buildRecords embeds chunks in batches on a bounded pool. Vectors land at
// their chunk index so record order always equals source order.
func (p *Pipeline) buildRecords(
	ctx context.Context,
	tenant, name string,
	chunks []chunk.Chunk,
) ([]vectordb.Record, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(chunks))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.options.Workers)
	for start := 0; start < len(chunks); start += p.options.BatchSize {
		end := min(start+p.options.BatchSize, len(chunks))
		group.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Text
			}
			var out [][]float32
			err := p.withRetry(groupCtx, func(ctx context.Context) error {
				var embedErr error
				out, embedErr = p.embedder.EmbedDocuments(ctx, texts)
				return embedErr
			})
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf(
					"%w: embedder returned %d vectors for %d chunks",
					knowledge.ErrEmbeddingUnavailable,
					len(out),
					len(texts),
				)
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	records := make([]vectordb.Record, len(chunks))
	for i := range chunks {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("%w: empty vector for chunk %d of %s", knowledge.ErrEmbeddingUnavailable, i, name)
		}
		id, err := p.options.IDs.ChunkID(core.ChunkKey{
			Tenant: tenant,
			Source: name,
			Index:  chunks[i].Index,
			Hash:   chunks[i].Hash,
		})
		if err != nil {
			return nil, fmt.Errorf("knowledge: chunk id for %s#%d: %w", name, i, err)
		}
		meta := core.CloneMap(chunks[i].Metadata)
		meta[knowledge.MetaTenant] = tenant
		records[i] = vectordb.Record{
			ID:        id.String(),
			Text:      chunks[i].Text,
			Embedding: vectors[i],
			Metadata:  meta,
		}
	}
	return records, nil
}

// withRetry retries embedding and store failures with capped exponential
// backoff. Tenant validation and cancellation are never retried.
func (p *Pipeline) withRetry(ctx context.Context, fn func(context.Context) error) error {
	r := p.options.Retry
	backoff := retry.NewExponential(r.Backoff)
	backoff = retry.WithCappedDuration(r.MaxBackoff, backoff)
	maxRetries := uint64(max(r.Attempts-1, 0)) // #nosec G115 -- attempts normalized positive
	return retry.Do(ctx, retry.WithMaxRetries(maxRetries, backoff), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, knowledge.ErrEmbeddingUnavailable) || errors.Is(err, knowledge.ErrVectorStore)
}

func (p *Pipeline) invalidate(ctx context.Context, tenant string) {
	if p.options.Cache == nil {
		return
	}
	if err := p.options.Cache.InvalidateTenant(ctx, tenant); err != nil {
		logger.FromContext(ctx).Warn("Failed to invalidate retrieval cache", "tenant", tenant, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, knowledge.ErrEmbeddingUnavailable):
		return "embedding"
	case errors.Is(err, knowledge.ErrVectorStore):
		return "store"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
