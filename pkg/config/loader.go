package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/xhit/go-str2duration/v2"
)

// loader implements the Service interface for configuration management.
type loader struct {
	koanf      *koanf.Koanf
	validator  *validator.Validate
	metadata   Metadata
	metadataMu sync.RWMutex
}

// sensitiveStringDecodeHook is a mapstructure decode hook that converts strings to SensitiveString
func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

// durationDecodeHook parses durations with day and week units ("1d12h",
// "2w") in addition to the standard time.ParseDuration forms.
func durationDecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	raw := strings.TrimSpace(reflect.ValueOf(data).String())
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

// NewService creates a new configuration service with validation support.
func NewService() Service {
	v := validator.New()
	if err := RegisterCustomValidators(v); err != nil {
		panic(fmt.Sprintf("config: register validators: %v", err))
	}
	return &loader{
		koanf:     koanf.New("."),
		validator: v,
		metadata:  Metadata{Sources: make(map[string]SourceType)},
	}
}

// Load applies defaults, then sources in order, then the environment.
// Later layers take precedence.
func (l *loader) Load(_ context.Context, sources ...Source) (*Config, error) {
	l.reset()
	if err := l.loadDefaults(); err != nil {
		return nil, err
	}
	if err := l.loadSources(sources); err != nil {
		return nil, err
	}
	if err := l.loadEnvironment(); err != nil {
		return nil, err
	}
	return l.unmarshalAndValidate()
}

func (l *loader) reset() {
	l.koanf = koanf.New(".")
	l.metadataMu.Lock()
	l.metadata.Sources = make(map[string]SourceType)
	l.metadata.LoadedAt = time.Now()
	l.metadataMu.Unlock()
}

func (l *loader) loadDefaults() error {
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	for _, key := range l.koanf.Keys() {
		l.trackSource(key, SourceDefault)
	}
	return nil
}

// loadEnvironment only accepts variables that are declared through env tags;
// unrelated process variables would otherwise pollute the key space.
func (l *loader) loadEnvironment() error {
	envToPath := GenerateEnvToConfigMap()
	before := l.snapshot()
	if err := l.koanf.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key string, value string) (string, any) {
			if path, ok := envToPath[key]; ok {
				return path, value
			}
			return "", nil
		},
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	l.trackChanges(before, SourceEnv)
	return nil
}

func (l *loader) loadSources(sources []Source) error {
	for _, source := range sources {
		if source == nil || source.Type() == SourceEnv {
			continue
		}
		if err := l.loadSource(source); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadSource(source Source) error {
	data, err := source.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", source.Type(), err)
	}
	if len(data) == 0 {
		return nil
	}
	before := l.snapshot()
	for key, value := range flattenMap("", data) {
		if err := l.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from source %s: %w", key, source.Type(), err)
		}
	}
	l.trackChanges(before, source.Type())
	return nil
}

func (l *loader) snapshot() map[string]any {
	out := make(map[string]any)
	for _, key := range l.koanf.Keys() {
		out[key] = l.koanf.Get(key)
	}
	return out
}

func (l *loader) trackChanges(before map[string]any, source SourceType) {
	for _, key := range l.koanf.Keys() {
		prev, existed := before[key]
		if !existed || !reflect.DeepEqual(prev, l.koanf.Get(key)) {
			l.trackSource(key, source)
		}
	}
}

// flattenMap flattens a nested map into dot-notation keys
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

func (l *loader) unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationDecodeHook,
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration meets all validation requirements.
func (l *loader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := validateCustom(cfg); err != nil {
		return fmt.Errorf("custom validation failed: %w", err)
	}
	return nil
}

// GetSource returns the source type for a specific configuration key.
func (l *loader) GetSource(key string) SourceType {
	l.metadataMu.RLock()
	defer l.metadataMu.RUnlock()
	if source, ok := l.metadata.Sources[key]; ok {
		return source
	}
	return SourceDefault
}

func (l *loader) trackSource(key string, source SourceType) {
	l.metadataMu.Lock()
	defer l.metadataMu.Unlock()
	l.metadata.Sources[key] = source
}

func validateCustom(cfg *Config) error {
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return fmt.Errorf("chunking overlap (%d) must be smaller than size (%d)", cfg.Chunking.Overlap, cfg.Chunking.Size)
	}
	if cfg.Materials.RetryMaxBackoff > 0 && cfg.Materials.RetryMaxBackoff < cfg.Materials.RetryBackoff {
		return fmt.Errorf("materials retry_max_backoff must not be below retry_backoff")
	}
	if cfg.VectorStore.Provider == "pgvector" {
		db := cfg.Database
		if db.ConnString == "" && (db.Host == "" || db.Port == "" || db.User == "" || db.DBName == "") {
			return fmt.Errorf("database configuration incomplete: either conn_string or individual components required")
		}
	}
	if cfg.Embedding.Local.BaseURL == "" && cfg.Embedding.Remote.BaseURL == "" {
		return fmt.Errorf("at least one embedding provider base_url is required")
	}
	if cfg.Retrieval.Cache == "redis" && cfg.Redis.URL == "" && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis cache selected but neither redis.url nor redis.addr is set")
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		if rl.Limit <= 0 || rl.Period <= 0 {
			return fmt.Errorf("rate limit requires a positive limit and period")
		}
		if rl.Store == "redis" && cfg.Redis.URL == "" && cfg.Redis.Addr == "" {
			return fmt.Errorf("redis rate limit store selected but neither redis.url nor redis.addr is set")
		}
	}
	return nil
}
