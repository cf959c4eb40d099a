package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFileName(t *testing.T) {
	t.Run("Should normalize relative names", func(t *testing.T) {
		cases := map[string]string{
			"notes.md":           "notes.md",
			"./week1/notes.md":   "week1/notes.md",
			"week1\\notes.md":    "week1/notes.md",
			"week1/../notes.md":  "notes.md",
			"  spaced/name.txt ": "spaced/name.txt",
		}
		for in, want := range cases {
			got, err := CleanFileName(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}
	})

	t.Run("Should reject names outside the tenant directory", func(t *testing.T) {
		for _, in := range []string{"../x.md", "week1/../../x.md", "/etc/passwd", "..", "."} {
			_, err := CleanFileName(in)
			assert.Error(t, err, in)
		}
		_, err := CleanFileName("  ")
		assert.ErrorIs(t, err, knowledge.ErrFileNotFound)
	})
}

func TestLayout(t *testing.T) {
	t.Run("Should place files under the tenant directory", func(t *testing.T) {
		l := Layout{Root: "/data"}
		path, name, err := l.FilePath("bio101", "week1/notes.md")
		require.NoError(t, err)
		assert.Equal(t, filepath.FromSlash("/data/bio101/week1/notes.md"), path)
		assert.Equal(t, "week1/notes.md", name)

		_, _, err = l.FilePath("bio/101", "notes.md")
		assert.ErrorIs(t, err, knowledge.ErrInvalidTenant)
	})

	t.Run("Should return the cleaned name with the path", func(t *testing.T) {
		l := Layout{Root: "/data"}
		path, name, err := l.FilePath("bio101", `week1\\./notes.md`)
		require.NoError(t, err)
		assert.Equal(t, "week1/notes.md", name)
		assert.Equal(t, filepath.FromSlash("/data/bio101/week1/notes.md"), path)

		_, _, err = l.FilePath("bio101", "   ")
		assert.ErrorIs(t, err, knowledge.ErrFileNotFound)
		_, _, err = l.FilePath("bio101", "../chem200/notes.md")
		assert.Error(t, err)
	})

	t.Run("Should skip pipeline-owned paths", func(t *testing.T) {
		assert.True(t, reserved("index.json"))
		assert.True(t, reserved("index.json.tmp"))
		assert.True(t, reserved(".index.lock"))
		assert.True(t, reserved("embeddings/vectors.json"))
		assert.True(t, reserved(".git/config"))
		assert.False(t, reserved("week1/index.json"))
		assert.False(t, reserved("notes.md"))
	})
}

func TestPathInside(t *testing.T) {
	t.Run("Should reject symlinks that leave the root", func(t *testing.T) {
		root := t.TempDir()
		outside := t.TempDir()
		target := filepath.Join(outside, "secret.md")
		require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
		link := filepath.Join(root, "link.md")
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		inside, err := pathInside(root, link)
		require.NoError(t, err)
		assert.False(t, inside)

		local := filepath.Join(root, "local.md")
		require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))
		inside, err = pathInside(root, local)
		require.NoError(t, err)
		assert.True(t, inside)
	})

	t.Run("Should report missing targets", func(t *testing.T) {
		_, err := pathInside(t.TempDir(), "/nope/missing.md")
		assert.ErrorIs(t, err, knowledge.ErrFileNotFound)
	})
}
