package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/compozy/tutorrag/engine/knowledge"
)

const (
	embeddingsDir  = "embeddings"
	snapshotFile   = "vectors.json"
	snapshotFormat = 1
)

// FileStore persists each tenant as a JSON snapshot under
// <root>/<tenant>/embeddings/vectors.json. Writes go through a temp file and
// a rename so a crash never leaves a half-written snapshot.
type FileStore struct {
	mu        sync.Mutex
	root      string
	dimension int
	tenants   map[string]table
}

func NewFileStore(root string, dimension int) (*FileStore, error) {
	if root == "" {
		return nil, errMissingPath
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, storeErr("filesystem", fmt.Errorf("ensure directory %q: %w", root, err))
	}
	return &FileStore{root: root, dimension: dimension, tenants: make(map[string]table)}, nil
}

// SnapshotPath returns the file holding tenant's vectors.
func (s *FileStore) SnapshotPath(tenant string) string {
	return filepath.Join(s.root, tenant, embeddingsDir, snapshotFile)
}

func (s *FileStore) Upsert(_ context.Context, tenant string, records []Record) error {
	if len(records) == 0 {
		return knowledge.ValidateTenant(tenant)
	}
	return s.mutate(tenant, "upsert", records, func(t table) bool {
		t.upsert(records)
		return true
	})
}

func (s *FileStore) Search(_ context.Context, tenant string, query []float32, opts SearchOptions) ([]Match, error) {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if err := checkDimension("search", "", len(query), s.dimension); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(tenant)
	if err != nil {
		return nil, err
	}
	return rank(t, query, opts), nil
}

func (s *FileStore) DeleteByFile(_ context.Context, tenant string, sourceFile string) error {
	return s.mutate(tenant, "delete", nil, func(t table) bool {
		return t.deleteSource(sourceFile) > 0
	})
}

func (s *FileStore) ReplaceFile(_ context.Context, tenant string, sourceFile string, records []Record) error {
	return s.mutate(tenant, "replace", records, func(t table) bool {
		removed := t.deleteSource(sourceFile)
		t.upsert(records)
		return removed > 0 || len(records) > 0
	})
}

func (s *FileStore) DeleteTenant(_ context.Context, tenant string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenant)
	if err := os.Remove(s.SnapshotPath(tenant)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storeErr("delete tenant", err)
	}
	return nil
}

func (s *FileStore) Close(context.Context) error {
	return nil
}

// mutate applies fn to the tenant table and persists when fn reports a change.
// On persistence failure the in-memory table is reloaded from disk.
func (s *FileStore) mutate(tenant, op string, records []Record, fn func(table) bool) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	for i := range records {
		if err := checkDimension(op, records[i].ID, len(records[i].Embedding), s.dimension); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(tenant)
	if err != nil {
		return err
	}
	if !fn(t) {
		return nil
	}
	if err := s.persistLocked(tenant, t); err != nil {
		delete(s.tenants, tenant)
		return err
	}
	return nil
}

func (s *FileStore) tableLocked(tenant string) (table, error) {
	if t, ok := s.tenants[tenant]; ok {
		return t, nil
	}
	t, err := s.load(tenant)
	if err != nil {
		return nil, err
	}
	s.tenants[tenant] = t
	return t, nil
}

func (s *FileStore) load(tenant string) (table, error) {
	path := s.SnapshotPath(tenant)
	t := make(table)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, storeErr("load", fmt.Errorf("read %q: %w", path, err))
	}
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, storeErr("load", fmt.Errorf("decode %q: %w", path, err))
	}
	if payload.Dimension > 0 && payload.Dimension != s.dimension {
		return nil, storeErr("load", fmt.Errorf(
			"stored dimension %d does not match config %d for %q",
			payload.Dimension,
			s.dimension,
			path,
		))
	}
	for i := range payload.Records {
		rec := payload.Records[i]
		t[rec.ID] = Record{ID: rec.ID, Text: rec.Text, Embedding: rec.Embedding, Metadata: rec.Metadata}
	}
	return t, nil
}

func (s *FileStore) persistLocked(tenant string, t table) error {
	path := s.SnapshotPath(tenant)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return storeErr("persist", err)
	}
	payload := snapshotPayload{
		Version:   snapshotFormat,
		Dimension: s.dimension,
		Records:   make([]snapshotRecord, 0, len(t)),
	}
	for _, rec := range t {
		payload.Records = append(payload.Records, snapshotRecord(rec))
	}
	sort.Slice(payload.Records, func(i, j int) bool { return payload.Records[i].ID < payload.Records[j].ID })
	data, err := json.Marshal(payload)
	if err != nil {
		return storeErr("persist", fmt.Errorf("encode snapshot: %w", err))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return storeErr("persist", fmt.Errorf("write snapshot: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return storeErr("persist", fmt.Errorf("commit snapshot: %w", err))
	}
	return nil
}

type snapshotPayload struct {
	Version   int              `json:"version"`
	Dimension int              `json:"dimension"`
	Records   []snapshotRecord `json:"records"`
}

type snapshotRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}
