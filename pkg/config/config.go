package config

import (
	"context"
	"time"
)

// Config holds the settings for ingestion, embedding, storage and retrieval.
type Config struct {
	Materials   MaterialsConfig   `koanf:"materials"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	VectorStore VectorStoreConfig `koanf:"vector_store"`
	Database    DatabaseConfig    `koanf:"database"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Redis       RedisConfig       `koanf:"redis"`
	Server      ServerConfig      `koanf:"server"`
}

// MaterialsConfig locates tenant material directories and tunes ingestion.
type MaterialsConfig struct {
	Root            string        `koanf:"root"              env:"MATERIALS_ROOT"              validate:"required"`
	MaxFileBytes    int64         `koanf:"max_file_bytes"    env:"MATERIALS_MAX_FILE_BYTES"    validate:"min=1"`
	Workers         int           `koanf:"workers"           env:"MATERIALS_WORKERS"           validate:"min=1,max=64"`
	RetryAttempts   int           `koanf:"retry_attempts"    env:"MATERIALS_RETRY_ATTEMPTS"    validate:"min=1"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"     env:"MATERIALS_RETRY_BACKOFF"`
	RetryMaxBackoff time.Duration `koanf:"retry_max_backoff" env:"MATERIALS_RETRY_MAX_BACKOFF"`
	IDStrategy      string        `koanf:"id_strategy"       env:"MATERIALS_ID_STRATEGY"       validate:"oneof=content random"`
}

// ChunkingConfig sets the token window used by the chunker.
type ChunkingConfig struct {
	Strategy string `koanf:"strategy" env:"CHUNK_STRATEGY" validate:"oneof=auto token_window markdown recursive"`
	Size     int    `koanf:"size"     env:"CHUNK_SIZE"     validate:"min=1"`
	Overlap  int    `koanf:"overlap"  env:"CHUNK_OVERLAP"  validate:"min=0"`
	Encoding string `koanf:"encoding" env:"CHUNK_ENCODING" validate:"required"`
}

// EmbeddingConfig configures the local and remote embedding providers.
type EmbeddingConfig struct {
	Dimension   int                  `koanf:"dimension"      env:"EMBEDDING_DIMENSION"      validate:"min=1"`
	PreferLocal bool                 `koanf:"prefer_local"   env:"EMBEDDING_PREFER_LOCAL"`
	CacheSize   int                  `koanf:"cache_size"     env:"EMBEDDING_CACHE_SIZE"     validate:"min=0"`
	Local       LocalEmbedderConfig  `koanf:"local"`
	Remote      RemoteEmbedderConfig `koanf:"remote"`
	Breaker     BreakerConfig        `koanf:"circuit_breaker"`
}

// BreakerConfig takes a failing embedding provider out of the chain for a while.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"       env:"EMBEDDING_BREAKER_ENABLED"`
	ErrorPercent int           `koanf:"error_percent" env:"EMBEDDING_BREAKER_ERROR_PERCENT" validate:"min=0,max=100"`
	MinRequests  int           `koanf:"min_requests"  env:"EMBEDDING_BREAKER_MIN_REQUESTS"  validate:"min=0"`
	OpenFor      time.Duration `koanf:"open_for"      env:"EMBEDDING_BREAKER_OPEN_FOR"`
}

type LocalEmbedderConfig struct {
	BaseURL string        `koanf:"base_url" env:"EMBEDDING_LOCAL_URL"  validate:"base_url"`
	Model   string        `koanf:"model"    env:"EMBEDDING_LOCAL_MODEL"`
	Timeout time.Duration `koanf:"timeout"  env:"EMBEDDING_LOCAL_TIMEOUT"`
}

type RemoteEmbedderConfig struct {
	BaseURL string          `koanf:"base_url" env:"EMBEDDING_REMOTE_URL" validate:"base_url"`
	Model   string          `koanf:"model"    env:"EMBEDDING_REMOTE_MODEL"`
	APIKey  SensitiveString `koanf:"api_key"  env:"OPENAI_API_KEY"         sensitive:"true"`
	Timeout time.Duration   `koanf:"timeout"  env:"EMBEDDING_REMOTE_TIMEOUT"`
}

// VectorStoreConfig selects and tunes the vector store backend.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider"   env:"VECTOR_STORE_PROVIDER" validate:"oneof=pgvector filesystem memory"`
	Table        string `koanf:"table"      env:"VECTOR_STORE_TABLE"`
	IndexType    string `koanf:"index_type" env:"VECTOR_STORE_INDEX"    validate:"oneof=hnsw ivfflat none"`
	EnsureSchema bool   `koanf:"ensure_schema" env:"VECTOR_STORE_ENSURE_SCHEMA"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	ConnString      string          `koanf:"conn_string"        env:"DB_CONN_STRING"`
	Host            string          `koanf:"host"               env:"DB_HOST"`
	Port            string          `koanf:"port"               env:"DB_PORT"`
	User            string          `koanf:"user"               env:"DB_USER"`
	Password        SensitiveString `koanf:"password"           env:"DB_PASSWORD"        sensitive:"true"`
	DBName          string          `koanf:"name"               env:"DB_NAME"`
	SSLMode         string          `koanf:"ssl_mode"           env:"DB_SSL_MODE"`
	MaxOpenConns    int             `koanf:"max_open_conns"     env:"DB_MAX_OPEN_CONNS"`
	MinIdleConns    int             `koanf:"min_idle_conns"     env:"DB_MIN_IDLE_CONNS"`
	ConnMaxLifetime time.Duration   `koanf:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration   `koanf:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME"`
	PingTimeout     time.Duration   `koanf:"ping_timeout"       env:"DB_PING_TIMEOUT"`
}

// RetrievalConfig tunes query-time behavior.
type RetrievalConfig struct {
	TopK      int           `koanf:"top_k"      env:"RETRIEVAL_TOP_K"      validate:"min=1"`
	MinScore  float64       `koanf:"min_score"  env:"RETRIEVAL_MIN_SCORE"  validate:"min=-1,max=1"`
	CacheSize int           `koanf:"cache_size" env:"RETRIEVAL_CACHE_SIZE" validate:"min=1"`
	CacheTTL  time.Duration `koanf:"cache_ttl"  env:"RETRIEVAL_CACHE_TTL"`
	Cache     string        `koanf:"cache"      env:"RETRIEVAL_CACHE"      validate:"oneof=memory redis"`
}

// RedisConfig is used when the retrieval cache is shared across replicas.
type RedisConfig struct {
	URL      string          `koanf:"url"      env:"REDIS_URL"`
	Addr     string          `koanf:"addr"     env:"REDIS_ADDR"`
	Password SensitiveString `koanf:"password" env:"REDIS_PASSWORD" sensitive:"true"`
	DB       int             `koanf:"db"       env:"REDIS_DB"`
	Prefix   string          `koanf:"prefix"   env:"REDIS_PREFIX"`
}

// ServerConfig contains the HTTP API settings.
type ServerConfig struct {
	Host        string          `koanf:"host"         env:"SERVER_HOST"`
	Port        int             `koanf:"port"         env:"SERVER_PORT"         validate:"min=1,max=65535"`
	ReadTimeout time.Duration   `koanf:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	Metrics     bool            `koanf:"metrics"      env:"SERVER_METRICS"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig throttles API requests per tenant and client address.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled" env:"RATE_LIMIT_ENABLED"`
	Limit   int64         `koanf:"limit"   env:"RATE_LIMIT_LIMIT"   validate:"min=0"`
	Period  time.Duration `koanf:"period"  env:"RATE_LIMIT_PERIOD"`
	Store   string        `koanf:"store"   env:"RATE_LIMIT_STORE"   validate:"oneof=memory redis"`
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type for a specific configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load loads configuration using the default service.
func Load() (*Config, error) {
	return NewService().Load(context.Background())
}

// Default returns a Config with development defaults.
func Default() *Config {
	return &Config{
		Materials: MaterialsConfig{
			Root:            "./materials",
			MaxFileBytes:    32 << 20,
			Workers:         4,
			RetryAttempts:   3,
			RetryBackoff:    200 * time.Millisecond,
			RetryMaxBackoff: 2 * time.Second,
			IDStrategy:      "content",
		},
		Chunking: ChunkingConfig{
			Strategy: "auto",
			Size:     512,
			Overlap:  64,
			Encoding: "cl100k_base",
		},
		Embedding: EmbeddingConfig{
			Dimension:   768,
			PreferLocal: true,
			CacheSize:   512,
			Local: LocalEmbedderConfig{
				BaseURL: "http://localhost:11434",
				Model:   "nomic-embed-text",
				Timeout: 10 * time.Second,
			},
			Remote: RemoteEmbedderConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "text-embedding-3-small",
				Timeout: 30 * time.Second,
			},
			Breaker: BreakerConfig{
				Enabled:      true,
				ErrorPercent: 50,
				MinRequests:  5,
				OpenFor:      30 * time.Second,
			},
		},
		VectorStore: VectorStoreConfig{
			Provider:     "pgvector",
			Table:        "chunks",
			IndexType:    "hnsw",
			EnsureSchema: true,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Password:        "postgres",
			DBName:          "tutorrag",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MinIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:      5,
			MinScore:  0.3,
			CacheSize: 256,
			Cache:     "memory",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "tutorrag:",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5001,
			ReadTimeout: 15 * time.Second,
			Metrics:     true,
			RateLimit: RateLimitConfig{
				Enabled: false,
				Limit:   120,
				Period:  time.Minute,
				Store:   "memory",
			},
		},
	}
}
