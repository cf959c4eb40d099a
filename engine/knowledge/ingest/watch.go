package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/romdo/go-debounce"
)

const (
	defaultWatchDebounce = 500 * time.Millisecond
	defaultWatchMaxWait  = 5 * time.Second
)

// WatchOptions tunes Watch.
type WatchOptions struct {
	// Debounce coalesces bursts of events on the same tenant.
	Debounce time.Duration
	// MaxWait bounds how long a steady stream of events can defer a sync.
	MaxWait time.Duration
	// OnChange receives the outcome of every processed file.
	OnChange func(Change)
}

// Change is the result of syncing one changed material file.
type Change struct {
	File    string
	Removed bool
	Result  *FileResult
	Err     error
}

type tenantWatcher struct {
	pipeline *Pipeline
	tenant   string
	dir      string
	fsw      *fsnotify.Watcher
	opts     WatchOptions

	mu      sync.Mutex
	pending map[string]struct{}
	// syncMu serializes flushes fired by the debouncer.
	syncMu sync.Mutex
}

// Watch re-ingests tenant files as they are written and removes the chunks of
// deleted files, until ctx is canceled. Events are debounced so an editor save
// burst triggers one ingestion.
func (p *Pipeline) Watch(ctx context.Context, tenant string, opts WatchOptions) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultWatchDebounce
	}
	if opts.MaxWait < opts.Debounce {
		opts.MaxWait = max(defaultWatchMaxWait, opts.Debounce)
	}
	dir := p.layout.TenantDir(tenant)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("knowledge: watch tenant directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("knowledge: %s is not a directory", dir)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()
	w := &tenantWatcher{
		pipeline: p,
		tenant:   tenant,
		dir:      dir,
		fsw:      fsw,
		opts:     opts,
		pending:  make(map[string]struct{}),
	}
	if err := w.addTree(ctx, dir); err != nil {
		return err
	}
	flush, cancel := debounce.NewWithMaxWait(opts.Debounce, opts.MaxWait, func() {
		w.flush(ctx)
	})
	defer func() {
		cancel()
		w.syncMu.Lock()
		defer w.syncMu.Unlock()
	}()
	logger.FromContext(ctx).Info("Watching tenant materials", "tenant", tenant, "dir", dir)
	return w.loop(ctx, flush)
}

func (w *tenantWatcher) loop(ctx context.Context, flush func()) error {
	log := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("Context canceled, stopping material watcher", "tenant", w.tenant)
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(ctx, event) {
				flush()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "tenant", w.tenant, "error", err)
		}
	}
}

// handle queues the file behind event and reports whether a sync is due.
func (w *tenantWatcher) handle(ctx context.Context, event fsnotify.Event) bool {
	rel, ok := w.relative(event.Name)
	if !ok || reserved(rel) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(ctx, event.Name); err != nil {
				logger.FromContext(ctx).Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
			return w.enqueueTree(event.Name)
		}
	}
	if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
		return false
	}
	w.enqueue(rel)
	return true
}

func (w *tenantWatcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *tenantWatcher) enqueue(rel string) {
	w.mu.Lock()
	w.pending[rel] = struct{}{}
	w.mu.Unlock()
}

// enqueueTree queues files that landed in a directory before it was watched.
func (w *tenantWatcher) enqueueTree(root string) bool {
	queued := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(path); ok && !reserved(rel) {
			w.enqueue(rel)
			queued = true
		}
		return nil
	})
	return queued
}

func (w *tenantWatcher) addTree(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(path); ok && reserved(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logger.FromContext(ctx).Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *tenantWatcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]struct{})
	sort.Strings(files)
	return files
}

func (w *tenantWatcher) flush(ctx context.Context) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	for _, rel := range w.drain() {
		w.report(ctx, w.sync(ctx, rel))
	}
}

func (w *tenantWatcher) sync(ctx context.Context, rel string) Change {
	path := filepath.Join(w.dir, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return w.remove(ctx, rel)
	case err != nil:
		return Change{File: rel, Err: err}
	case info.IsDir():
		return Change{File: rel}
	case !Supported(rel):
		return Change{File: rel}
	}
	res, err := w.pipeline.IngestFile(ctx, w.tenant, rel)
	return Change{File: rel, Result: res, Err: err}
}

// remove drops the chunks of a deleted file, or of every indexed file below a
// deleted directory.
func (w *tenantWatcher) remove(ctx context.Context, rel string) Change {
	indexed, err := w.pipeline.index.Files(ctx, w.tenant)
	if err != nil {
		return Change{File: rel, Removed: true, Err: err}
	}
	var errs []error
	for _, f := range indexed {
		if f == rel || strings.HasPrefix(f, rel+"/") {
			errs = append(errs, w.pipeline.RemoveFile(ctx, w.tenant, f))
		}
	}
	return Change{File: rel, Removed: true, Err: errors.Join(errs...)}
}

func (w *tenantWatcher) report(ctx context.Context, c Change) {
	if c.Err != nil {
		logger.FromContext(ctx).Warn("Material sync failed", "tenant", w.tenant, "file", c.File, "error", c.Err)
	}
	if w.opts.OnChange != nil {
		w.opts.OnChange(c)
	}
}
