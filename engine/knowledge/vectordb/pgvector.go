package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"
)

// DB is the subset of pgxpool.Pool used by the store, so tests can inject
// a pgxmock pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore keeps chunks in a single pgvector table partitioned by tenant_id.
// The pool is opened on first use and reused for the life of the store.
type PGStore struct {
	cfg        Config
	tableIdent string
	indexIdent string
	tenantIdx  string

	mu          sync.RWMutex
	db          DB
	pool        *pgxpool.Pool
	schemaReady bool
	init        singleflight.Group
}

// PGOption customizes a PGStore.
type PGOption func(*PGStore)

// WithDB injects an existing connection handle instead of opening a pool.
func WithDB(db DB) PGOption {
	return func(s *PGStore) {
		s.db = db
	}
}

func NewPGStore(cfg *Config, opts ...PGOption) (*PGStore, error) {
	if cfg == nil {
		return nil, errors.New("vector store config is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errInvalidDimension
	}
	c := *cfg
	if strings.TrimSpace(c.Table) == "" {
		c.Table = defaultTable
	}
	if c.Index == "" {
		c.Index = IndexHNSW
	}
	s := &PGStore{
		cfg:        c,
		tableIdent: pgx.Identifier{c.Table}.Sanitize(),
		indexIdent: pgx.Identifier{c.Table + "_embedding_idx"}.Sanitize(),
		tenantIdx:  pgx.Identifier{c.Table + "_tenant_source_idx"}.Sanitize(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.db == nil && c.DSN == "" {
		return nil, fmt.Errorf("%s: %w", ProviderPGVector, errMissingDSN)
	}
	return s, nil
}

// handle returns the shared connection, opening the pool and ensuring the
// schema on first call. Concurrent first callers share one initialization.
func (s *PGStore) handle(ctx context.Context) (DB, error) {
	s.mu.RLock()
	db, ready := s.db, s.schemaReady || !s.cfg.EnsureSchema
	s.mu.RUnlock()
	if db != nil && ready {
		return db, nil
	}
	v, err, _ := s.init.Do("init", func() (any, error) {
		return s.initialize(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(DB), nil
}

func (s *PGStore) initialize(ctx context.Context) (DB, error) {
	s.mu.RLock()
	db, ready := s.db, s.schemaReady
	s.mu.RUnlock()
	if db == nil {
		pool, err := s.openPool(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.db, s.pool = pool, pool
		s.mu.Unlock()
		trackVectorPool(s.cfg.Table, pool)
		db = pool
	}
	if s.cfg.EnsureSchema && !ready {
		if err := s.ensureSchema(ctx, db); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.schemaReady = true
		s.mu.Unlock()
	}
	return db, nil
}

func (s *PGStore) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(s.cfg.DSN)
	if err != nil {
		return nil, storeErr("parse dsn", err)
	}
	opts := s.cfg.Pool
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = min(opts.MinConns, poolCfg.MaxConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second
	if opts.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = opts.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storeErr("connect", err)
	}
	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, storeErr("ping", err)
	}
	logger.FromContext(ctx).Info(
		"vector store connected",
		"table", s.cfg.Table,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

// SchemaStatements returns the DDL that EnsureSchema executes, in order.
func (s *PGStore) SchemaStatements() []string {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tenant_id TEXT NOT NULL,
	chunk_id TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	document TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, chunk_id)
)`, s.tableIdent, s.cfg.Dimension),
		fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (tenant_id, (metadata ->> 'source'))",
			s.tenantIdx,
			s.tableIdent,
		),
	}
	switch s.cfg.Index {
	case IndexHNSW:
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)",
			s.indexIdent,
			s.tableIdent,
		))
	case IndexIVFFlat:
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)",
			s.indexIdent,
			s.tableIdent,
		))
	}
	return stmts
}

// Ping verifies the database answers, opening the pool if needed.
func (s *PGStore) Ping(ctx context.Context) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, "SELECT 1"); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// EnsureSchema creates the extension, table and indexes if missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	s.mu.RLock()
	ready := s.schemaReady
	s.mu.RUnlock()
	if ready {
		return nil
	}
	if err := s.ensureSchema(ctx, db); err != nil {
		return err
	}
	s.mu.Lock()
	s.schemaReady = true
	s.mu.Unlock()
	return nil
}

func (s *PGStore) ensureSchema(ctx context.Context, db DB) error {
	for _, stmt := range s.SchemaStatements() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			recordVectorError(ctx, "schema", "exec")
			return storeErr("ensure schema", err)
		}
	}
	return nil
}

func (s *PGStore) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (tenant_id, chunk_id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, chunk_id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, s.tableIdent)
}

func (s *PGStore) deleteByFileSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1 AND metadata ->> 'source' = $2", s.tableIdent)
}

func (s *PGStore) Upsert(ctx context.Context, tenant string, records []Record) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.checkRecords("upsert", records); err != nil {
		return err
	}
	return s.inTx(ctx, "upsert", func(tx pgx.Tx) error {
		return s.insertAll(ctx, tx, tenant, records)
	})
}

func (s *PGStore) ReplaceFile(ctx context.Context, tenant string, sourceFile string, records []Record) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	if err := s.checkRecords("replace", records); err != nil {
		return err
	}
	return s.inTx(ctx, "replace", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, s.deleteByFileSQL(), tenant, sourceFile); err != nil {
			return fmt.Errorf("delete %q: %w", sourceFile, err)
		}
		return s.insertAll(ctx, tx, tenant, records)
	})
}

func (s *PGStore) checkRecords(op string, records []Record) error {
	for i := range records {
		if err := checkDimension(op, records[i].ID, len(records[i].Embedding), s.cfg.Dimension); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) insertAll(ctx context.Context, tx pgx.Tx, tenant string, records []Record) error {
	stmt := s.upsertSQL()
	now := time.Now().UTC()
	for i := range records {
		rec := records[i]
		meta := rec.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		payload, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal metadata for %q: %w", rec.ID, err)
		}
		vec := pgvector.NewVector(rec.Embedding)
		if _, err := tx.Exec(ctx, stmt, tenant, rec.ID, vec, rec.Text, payload, now); err != nil {
			return fmt.Errorf("upsert %q: %w", rec.ID, err)
		}
	}
	return nil
}

// inTx runs fn in a transaction, committing on success and rolling back otherwise.
func (s *PGStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) (err error) {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		recordVectorError(ctx, op, "begin")
		return storeErr(op, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w; rollback: %v", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			recordVectorError(ctx, op, "commit")
			err = storeErr(op, fmt.Errorf("commit: %w", commitErr))
		}
	}()
	if err := fn(tx); err != nil {
		recordVectorError(ctx, op, "exec")
		return storeErr(op, err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, tenant string, query []float32, opts SearchOptions) ([]Match, error) {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if err := checkDimension("search", "", len(query), s.cfg.Dimension); err != nil {
		return nil, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	sql, args, err := s.searchSQL(tenant, query, opts.Filters, topK)
	if err != nil {
		return nil, storeErr("search", fmt.Errorf("build query: %w", err))
	}
	start := time.Now()
	var rows []matchRow
	if err := pgxscan.Select(ctx, db, &rows, sql, args...); err != nil {
		recordVectorError(ctx, "search", "query")
		return nil, storeErr("search", err)
	}
	results := make([]Match, 0, len(rows))
	for i := range rows {
		meta := make(map[string]any)
		if len(rows[i].Metadata) > 0 {
			if err := json.Unmarshal(rows[i].Metadata, &meta); err != nil {
				return nil, storeErr("search", fmt.Errorf("decode metadata: %w", err))
			}
		}
		results = append(results, Match{ID: rows[i].ChunkID, Score: rows[i].Score, Text: rows[i].Document, Metadata: meta})
	}
	best := 0.0
	if len(results) > 0 {
		best = 1 - results[0].Score
	}
	recordVectorSearch(ctx, string(s.cfg.Index), topK, time.Since(start), len(results), best, true)
	return results, nil
}

type matchRow struct {
	ChunkID  string  `db:"chunk_id"`
	Document string  `db:"document"`
	Metadata []byte  `db:"metadata"`
	Score    float64 `db:"score"`
}

// searchSQL orders by cosine distance; filter keys are sorted so the
// statement is stable for a given filter set.
func (s *PGStore) searchSQL(tenant string, query []float32, filters map[string]string, topK int) (string, []any, error) {
	vec := pgvector.NewVector(query)
	sb := squirrel.Select("chunk_id", "document", "metadata").
		Column("1 - (embedding <=> ?) AS score", vec).
		From(s.tableIdent).
		Where(squirrel.Eq{"tenant_id": tenant}).
		PlaceholderFormat(squirrel.Dollar)
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb = sb.Where("metadata ->> ? = ?", key, filters[key])
	}
	return sb.OrderByClause("embedding <=> ? ASC", vec).Limit(uint64(topK)).ToSql()
}

func (s *PGStore) DeleteByFile(ctx context.Context, tenant string, sourceFile string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, s.deleteByFileSQL(), tenant, sourceFile); err != nil {
		recordVectorError(ctx, "delete", "exec")
		return storeErr("delete", err)
	}
	return nil
}

func (s *PGStore) DeleteTenant(ctx context.Context, tenant string) error {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1", s.tableIdent)
	if _, err := db.Exec(ctx, stmt, tenant); err != nil {
		recordVectorError(ctx, "delete_tenant", "exec")
		return storeErr("delete tenant", err)
	}
	return nil
}

// Close releases the pool if the store opened one. Injected handles are left
// to their owner.
func (s *PGStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		untrackVectorPool(s.cfg.Table)
		s.pool.Close()
		s.pool = nil
		s.db = nil
		s.schemaReady = false
	}
	return nil
}
