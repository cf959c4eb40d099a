package vectordb

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/compozy/tutorrag/engine/knowledge"
	appconfig "github.com/compozy/tutorrag/pkg/config"
)

var (
	errMissingProvider  = errors.New("vector store provider is required")
	errMissingDSN       = errors.New("vector store dsn is required")
	errMissingPath      = errors.New("vector store path is required")
	errInvalidDimension = errors.New("vector store dimension must be greater than zero")
)

// New instantiates a vector store backed by the requested provider.
// The pgvector backend connects lazily on first use.
func New(cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderPGVector:
		return NewPGStore(cfg)
	case ProviderFilesystem:
		return NewFileStore(cfg.Path, cfg.Dimension)
	case ProviderMemory:
		return NewMemoryStore(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("vector store provider %q is not supported", cfg.Provider)
	}
}

// ConfigFromApp maps application settings onto a store Config.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	db := &cfg.Database
	return &Config{
		Provider:     Provider(strings.ToLower(cfg.VectorStore.Provider)),
		DSN:          ConnString(db),
		Path:         filepath.Clean(cfg.Materials.Root),
		Table:        cfg.VectorStore.Table,
		Index:        IndexType(strings.ToLower(cfg.VectorStore.IndexType)),
		EnsureSchema: cfg.VectorStore.EnsureSchema,
		Dimension:    cfg.Embedding.Dimension,
		Pool: PoolOptions{
			MinConns:        int32(max(db.MinIdleConns, 0)),
			MaxConns:        int32(max(db.MaxOpenConns, 0)),
			MaxConnLifetime: db.ConnMaxLifetime,
			MaxConnIdleTime: db.ConnMaxIdleTime,
			PingTimeout:     db.PingTimeout,
		},
	}
}

// ConnString returns the explicit connection string or one assembled from parts.
func ConnString(db *appconfig.DatabaseConfig) string {
	if s := strings.TrimSpace(db.ConnString); s != "" {
		return s
	}
	if db.Host == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		db.Host,
		valueOr(db.Port, "5432"),
		valueOr(db.User, "postgres"),
		db.Password.Value(),
		valueOr(db.DBName, "postgres"),
		valueOr(db.SSLMode, "disable"),
	)
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vector store config is required")
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Path = strings.TrimSpace(cfg.Path)
	switch cfg.Provider {
	case ProviderPGVector:
		if cfg.DSN == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, errMissingDSN)
		}
	case ProviderFilesystem:
		if cfg.Path == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, errMissingPath)
		}
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("%s: %w", cfg.Provider, errInvalidDimension)
	}
	switch cfg.Index {
	case "", IndexHNSW, IndexIVFFlat, IndexNone:
	default:
		return fmt.Errorf("%s: unknown index type %q", cfg.Provider, cfg.Index)
	}
	return nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, knowledge.ErrVectorStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", knowledge.ErrVectorStore, op, err)
}

func checkDimension(op string, id string, got, want int) error {
	if got == want {
		return nil
	}
	if id == "" {
		return storeErr(op, fmt.Errorf("query dimension mismatch (got %d want %d)", got, want))
	}
	return storeErr(op, fmt.Errorf("record %q dimension mismatch (got %d want %d)", id, got, want))
}
