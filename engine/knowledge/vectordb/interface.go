package vectordb

import (
	"context"
	"time"
)

// Provider enumerates supported vector store backends.
type Provider string

const (
	ProviderPGVector   Provider = "pgvector"
	ProviderFilesystem Provider = "filesystem"
	ProviderMemory     Provider = "memory"
)

// IndexType selects the approximate-nearest-neighbour index built by pgvector.
type IndexType string

const (
	IndexHNSW    IndexType = "hnsw"
	IndexIVFFlat IndexType = "ivfflat"
	IndexNone    IndexType = "none"
)

const (
	defaultTopK  = 5
	defaultTable = "chunks"
)

// Record is a chunk persisted to the vector store. Metadata must carry the
// source file under knowledge.MetaSource for DeleteByFile to find it.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK    int
	Filters map[string]string
}

// Match is a similarity search hit. Score is 1 - cosine distance.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Store is the tenant-partitioned contract used by ingestion and retrieval.
// Rows written under one tenant are never visible to another.
type Store interface {
	Upsert(ctx context.Context, tenant string, records []Record) error
	Search(ctx context.Context, tenant string, query []float32, opts SearchOptions) ([]Match, error)
	DeleteByFile(ctx context.Context, tenant string, sourceFile string) error
	// ReplaceFile atomically swaps every row of sourceFile for records.
	ReplaceFile(ctx context.Context, tenant string, sourceFile string, records []Record) error
	DeleteTenant(ctx context.Context, tenant string) error
	Close(ctx context.Context) error
}

// Config captures normalized settings for a vector store backend.
type Config struct {
	Provider     Provider
	DSN          string
	Path         string
	Table        string
	Index        IndexType
	EnsureSchema bool
	Dimension    int
	Pool         PoolOptions
}

// PoolOptions customizes pgxpool behavior.
type PoolOptions struct {
	MinConns          int32
	MaxConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	PingTimeout       time.Duration
}
