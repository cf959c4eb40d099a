package config

import (
	"reflect"
	"sync"
)

// EnvMapping represents a mapping between environment variable and config path
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings derives environment variable mappings from env struct tags.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cachedMappings = extractMappings(reflect.TypeOf(Config{}), "")
	})
	return cachedMappings
}

func extractMappings(t reflect.Type, prefix string) []EnvMapping {
	var mappings []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		if envTag := field.Tag.Get("env"); envTag != "" && envTag != "-" {
			mappings = append(mappings, EnvMapping{EnvVar: envTag, ConfigPath: path})
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			mappings = append(mappings, extractMappings(field.Type, path)...)
		}
	}
	return mappings
}

// GenerateEnvToConfigMap generates a map from env var to config path
func GenerateEnvToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		result[m.EnvVar] = m.ConfigPath
	}
	return result
}
