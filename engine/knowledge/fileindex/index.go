// Package fileindex records which chunk ids belong to which source file for a
// tenant. The index lives in <root>/<tenant>/index.json, never in the vector
// store.
package fileindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/gofrs/flock"
)

const (
	FileName     = "index.json"
	lockFileName = ".index.lock"
	lockRetry    = 20 * time.Millisecond
)

// Entries maps a source file name to its chunk ids in source order.
type Entries map[string][]string

// Index guards each tenant's index.json with an in-process mutex and an
// advisory file lock held only around the read-modify-write.
type Index struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string) *Index {
	return &Index{root: filepath.Clean(root), locks: make(map[string]*sync.Mutex)}
}

// Path returns the location of tenant's index file.
func (x *Index) Path(tenant string) string {
	return filepath.Join(x.root, tenant, FileName)
}

// Load returns a copy of every entry for tenant. A missing file yields an
// empty index.
func (x *Index) Load(ctx context.Context, tenant string) (Entries, error) {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var out Entries
	err := x.withLock(ctx, tenant, func() error {
		entries, err := x.read(tenant)
		out = entries
		return err
	})
	return out, err
}

// Get returns the chunk ids recorded for file.
func (x *Index) Get(ctx context.Context, tenant, file string) ([]string, bool, error) {
	entries, err := x.Load(ctx, tenant)
	if err != nil {
		return nil, false, err
	}
	ids, ok := entries[file]
	return ids, ok, nil
}

// Files lists the indexed source files in lexical order.
func (x *Index) Files(ctx context.Context, tenant string) ([]string, error) {
	entries, err := x.Load(ctx, tenant)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for f := range entries {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// Put replaces the ids recorded for file.
func (x *Index) Put(ctx context.Context, tenant, file string, ids []string) error {
	return x.update(ctx, tenant, func(e Entries) bool {
		e[file] = slices.Clone(ids)
		return true
	})
}

// Remove drops file from the index and returns the ids it had.
func (x *Index) Remove(ctx context.Context, tenant, file string) ([]string, bool, error) {
	var (
		removed []string
		found   bool
	)
	err := x.update(ctx, tenant, func(e Entries) bool {
		removed, found = e[file]
		if found {
			delete(e, file)
		}
		return found
	})
	return removed, found, err
}

// Drop deletes tenant's index file.
func (x *Index) Drop(ctx context.Context, tenant string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	return x.withLock(ctx, tenant, func() error {
		if err := os.Remove(x.Path(tenant)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("fileindex: remove %s: %w", tenant, err)
		}
		return nil
	})
}

func (x *Index) update(ctx context.Context, tenant string, fn func(Entries) bool) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	return x.withLock(ctx, tenant, func() error {
		entries, err := x.read(tenant)
		if err != nil {
			return err
		}
		if !fn(entries) {
			return nil
		}
		return x.write(tenant, entries)
	})
}

func (x *Index) tenantMutex(tenant string) *sync.Mutex {
	x.mu.Lock()
	defer x.mu.Unlock()
	m, ok := x.locks[tenant]
	if !ok {
		m = &sync.Mutex{}
		x.locks[tenant] = m
	}
	return m
}

func (x *Index) withLock(ctx context.Context, tenant string, fn func() error) error {
	m := x.tenantMutex(tenant)
	m.Lock()
	defer m.Unlock()
	dir := filepath.Join(x.root, tenant)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("fileindex: ensure %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("fileindex: lock %s: %w", tenant, err)
	}
	if !locked {
		return fmt.Errorf("fileindex: lock %s: not acquired", tenant)
	}
	defer fl.Unlock() //nolint:errcheck // releasing an advisory lock on a file we own
	return fn()
}

func (x *Index) read(tenant string) (Entries, error) {
	path := x.Path(tenant)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(Entries), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fileindex: read %s: %w", path, err)
	}
	entries := make(Entries)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("fileindex: decode %s: %w", path, err)
	}
	return entries, nil
}

func (x *Index) write(tenant string, entries Entries) error {
	path := x.Path(tenant)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("fileindex: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("fileindex: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("fileindex: commit %s: %w", path, err)
	}
	return nil
}
