package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const redacted = "[REDACTED]"

// SensitiveString holds a secret that must not appear in logs or JSON output.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the unredacted secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SensitiveString) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SensitiveString(v)
	return nil
}

// Redacted flattens cfg into nested maps keyed by koanf tags with secrets
// masked and durations rendered as strings.
func Redacted(cfg *Config) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to flatten configuration: %w", err)
	}
	return redactMap(k.Raw()), nil
}

func redactMap(m map[string]any) map[string]any {
	for key, value := range m {
		switch v := value.(type) {
		case map[string]any:
			m[key] = redactMap(v)
		case SensitiveString:
			m[key] = v.String()
		case time.Duration:
			m[key] = v.String()
		}
	}
	return m
}
