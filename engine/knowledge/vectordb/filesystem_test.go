package vectordb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir(), 2)
		require.NoError(t, err)
		return s
	})

	t.Run("Should persist tenant snapshots under the embeddings directory", func(t *testing.T) {
		root := t.TempDir()
		s, err := NewFileStore(root, 2)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(t.Context(), "bio101", []Record{rec("a", "cells.md", 1, 0)}))

		path := filepath.Join(root, "bio101", "embeddings", "vectors.json")
		assert.Equal(t, path, s.SnapshotPath("bio101"))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var payload snapshotPayload
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, 2, payload.Dimension)
		require.Len(t, payload.Records, 1)
		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Should reload rows from disk in a new instance", func(t *testing.T) {
		root := t.TempDir()
		first, err := NewFileStore(root, 2)
		require.NoError(t, err)
		require.NoError(t, first.Upsert(t.Context(), "bio101", []Record{
			rec("a", "cells.md", 1, 0),
			rec("b", "plants.md", 0, 1),
		}))
		require.NoError(t, first.DeleteByFile(t.Context(), "bio101", "plants.md"))

		second, err := NewFileStore(root, 2)
		require.NoError(t, err)
		matches, err := second.Search(t.Context(), "bio101", []float32{1, 0}, SearchOptions{})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, "cells.md", matches[0].Metadata[knowledge.MetaSource])
	})

	t.Run("Should refuse a snapshot written with another dimension", func(t *testing.T) {
		root := t.TempDir()
		first, err := NewFileStore(root, 2)
		require.NoError(t, err)
		require.NoError(t, first.Upsert(t.Context(), "bio101", []Record{rec("a", "cells.md", 1, 0)}))

		second, err := NewFileStore(root, 3)
		require.NoError(t, err)
		_, err = second.Search(t.Context(), "bio101", []float32{1, 0, 0}, SearchOptions{})
		assert.ErrorIs(t, err, knowledge.ErrVectorStore)
	})

	t.Run("Should remove the snapshot when the tenant is deleted", func(t *testing.T) {
		root := t.TempDir()
		s, err := NewFileStore(root, 2)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(t.Context(), "bio101", []Record{rec("a", "cells.md", 1, 0)}))
		require.NoError(t, s.DeleteTenant(t.Context(), "bio101"))
		_, err = os.Stat(s.SnapshotPath("bio101"))
		assert.True(t, os.IsNotExist(err))
	})
}
