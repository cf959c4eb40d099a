package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact non-empty values when printed", func(t *testing.T) {
		s := SensitiveString("sk-live-123")
		assert.Equal(t, "[REDACTED]", s.String())
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
		assert.Equal(t, "sk-live-123", s.Value())
	})

	t.Run("Should keep empty values empty", func(t *testing.T) {
		assert.Equal(t, "", SensitiveString("").String())
	})

	t.Run("Should marshal as redacted JSON", func(t *testing.T) {
		data, err := json.Marshal(struct {
			Key SensitiveString `json:"key"`
		}{Key: "secret"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))
	})

	t.Run("Should unmarshal the raw value", func(t *testing.T) {
		var s SensitiveString
		require.NoError(t, json.Unmarshal([]byte(`"secret-value"`), &s))
		assert.Equal(t, "secret-value", s.Value())
	})
}

func TestRedacted(t *testing.T) {
	t.Run("Should mask secrets and keep other settings", func(t *testing.T) {
		cfg := Default()
		cfg.Embedding.Remote.APIKey = "sk-live-123"
		cfg.Database.ConnString = "postgres://localhost/tutor"
		out, err := Redacted(cfg)
		require.NoError(t, err)
		embedding := out["embedding"].(map[string]any)
		remote := embedding["remote"].(map[string]any)
		assert.Equal(t, "[REDACTED]", remote["api_key"])
		database := out["database"].(map[string]any)
		assert.Equal(t, "postgres://localhost/tutor", database["conn_string"])
		assert.Equal(t, "[REDACTED]", database["password"])
	})

	t.Run("Should leave unset secrets empty", func(t *testing.T) {
		cfg := Default()
		cfg.Database.Password = ""
		out, err := Redacted(cfg)
		require.NoError(t, err)
		database := out["database"].(map[string]any)
		assert.Equal(t, "", database["password"])
		redis := out["redis"].(map[string]any)
		assert.Equal(t, "", redis["password"])
	})

	t.Run("Should render durations as strings", func(t *testing.T) {
		cfg := Default()
		out, err := Redacted(cfg)
		require.NoError(t, err)
		retrieval := out["retrieval"].(map[string]any)
		assert.Equal(t, cfg.Retrieval.CacheTTL.String(), retrieval["cache_ttl"])
	})
}
