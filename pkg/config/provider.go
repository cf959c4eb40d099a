package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CLIFlagPaths maps CLI flag names to configuration paths.
var CLIFlagPaths = map[string]string{
	"materials-root": "materials.root",
	"workers":        "materials.workers",
	"chunk-size":     "chunking.size",
	"chunk-overlap":  "chunking.overlap",
	"strategy":       "chunking.strategy",
	"vector-store":   "vector_store.provider",
	"db-conn-string": "database.conn_string",
	"top-k":          "retrieval.top_k",
	"min-score":      "retrieval.min_score",
	"cache":          "retrieval.cache",
	"host":           "server.host",
	"port":           "server.port",
}

// cliProvider implements Source interface for CLI flags.
type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider creates a configuration source from explicitly set CLI flags.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	out := make(map[string]any)
	for key, value := range c.flags {
		path, ok := CLIFlagPaths[key]
		if !ok {
			continue
		}
		if err := setNested(out, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", key, err)
		}
	}
	return out, nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

// setNested sets a value in a nested map structure using dot notation.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// yamlProvider implements Source interface for YAML files.
type yamlProvider struct {
	path string
}

// NewYAMLProvider creates a YAML file source. A missing file yields no values.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	data, err := os.ReadFile(y.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	return filterNilValues(raw), nil
}

// filterNilValues drops nil leaves so they do not override lower layers.
func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if filtered := filterNilValues(nested); len(filtered) > 0 {
				result[k] = filtered
			}
			continue
		}
		result[k] = v
	}
	return result
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}

// LoadDotEnv loads variables from a .env file without overriding the
// process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
