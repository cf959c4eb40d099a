package vectordb

import (
	"testing"

	appconfig "github.com/compozy/tutorrag/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("Should build each provider", func(t *testing.T) {
		mem, err := New(&Config{Provider: ProviderMemory, Dimension: 2})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, mem)

		fs, err := New(&Config{Provider: ProviderFilesystem, Path: t.TempDir(), Dimension: 2})
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, fs)

		pg, err := New(&Config{Provider: ProviderPGVector, DSN: "postgres://localhost/db", Dimension: 2})
		require.NoError(t, err)
		assert.IsType(t, &PGStore{}, pg)
	})

	t.Run("Should validate required settings", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
		_, err = New(&Config{Dimension: 2})
		assert.ErrorIs(t, err, errMissingProvider)
		_, err = New(&Config{Provider: ProviderPGVector, Dimension: 2})
		assert.ErrorIs(t, err, errMissingDSN)
		_, err = New(&Config{Provider: ProviderFilesystem, Dimension: 2})
		assert.ErrorIs(t, err, errMissingPath)
		_, err = New(&Config{Provider: ProviderMemory})
		assert.ErrorIs(t, err, errInvalidDimension)
		_, err = New(&Config{Provider: ProviderMemory, Dimension: 2, Index: "lsh"})
		assert.Error(t, err)
		_, err = New(&Config{Provider: "qdrant", Dimension: 2})
		assert.Error(t, err)
	})
}

func TestConfigFromApp(t *testing.T) {
	t.Run("Should assemble a connection string from parts", func(t *testing.T) {
		cfg := appconfig.Default()
		cfg.Database.ConnString = ""
		cfg.Database.Host = "db.internal"
		cfg.Database.Password = "secret"
		vc := ConfigFromApp(cfg)
		assert.Equal(t, ProviderPGVector, vc.Provider)
		assert.Equal(t, IndexHNSW, vc.Index)
		assert.Equal(t, cfg.Embedding.Dimension, vc.Dimension)
		assert.Contains(t, vc.DSN, "host=db.internal")
		assert.Contains(t, vc.DSN, "password=secret")
	})

	t.Run("Should prefer an explicit connection string", func(t *testing.T) {
		cfg := appconfig.Default()
		cfg.Database.ConnString = "postgres://u:p@h:5432/d"
		assert.Equal(t, "postgres://u:p@h:5432/d", ConfigFromApp(cfg).DSN)
	})
}
