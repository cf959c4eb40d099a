package vectordb

import (
	"context"
	"sync"

	"github.com/compozy/tutorrag/engine/knowledge"
)

// table holds the rows of a single tenant keyed by chunk id.
type table map[string]Record

func (t table) upsert(records []Record) {
	for i := range records {
		t[records[i].ID] = cloneRecord(records[i])
	}
}

func (t table) deleteSource(source string) int {
	removed := 0
	for id, rec := range t {
		if knowledge.SourceOf(rec.Metadata) == source {
			delete(t, id)
			removed++
		}
	}
	return removed
}

// MemoryStore keeps tenant partitions in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	tenants   map[string]table
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, tenants: make(map[string]table)}
}

func (s *MemoryStore) validate(op string, records []Record) error {
	for i := range records {
		if err := checkDimension(op, records[i].ID, len(records[i].Embedding), s.dimension); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, tenant string, records []Record) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.validate("upsert", records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenant]
	if !ok {
		t = make(table)
		s.tenants[tenant] = t
	}
	t.upsert(records)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, tenant string, query []float32, opts SearchOptions) ([]Match, error) {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if err := checkDimension("search", "", len(query), s.dimension); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rank(s.tenants[tenant], query, opts), nil
}

func (s *MemoryStore) DeleteByFile(_ context.Context, tenant string, sourceFile string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[tenant]; ok {
		t.deleteSource(sourceFile)
	}
	return nil
}

func (s *MemoryStore) ReplaceFile(_ context.Context, tenant string, sourceFile string, records []Record) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	if err := s.validate("replace", records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenant]
	if !ok {
		t = make(table)
		s.tenants[tenant] = t
	}
	t.deleteSource(sourceFile)
	t.upsert(records)
	return nil
}

func (s *MemoryStore) DeleteTenant(_ context.Context, tenant string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.tenants, tenant)
	s.mu.Unlock()
	return nil
}

// Len reports how many rows tenant holds.
func (s *MemoryStore) Len(tenant string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants[tenant])
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
