package chunk

import (
	"testing"
	"unicode/utf8"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Windows(t *testing.T) {
	t.Run("Should slide a fixed window with overlap", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		text := "w0 w1 w2 w3 w4 w5 w6 w7 w8 w9"
		windows, err := c.Windows(text, 4, 1)
		require.NoError(t, err)
		require.Len(t, windows, 3)
		assert.Equal(t, "w0 w1 w2 w3 ", windows[0].Text)
		assert.Equal(t, "w3 w4 w5 w6 ", windows[1].Text)
		assert.Equal(t, "w6 w7 w8 w9", windows[2].Text)
		assert.Equal(t, text, reconstruct(text, windows))
	})

	t.Run("Should emit a final partial window", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		windows, err := c.Windows("a b c d e", 3, 0)
		require.NoError(t, err)
		require.Len(t, windows, 2)
		assert.Equal(t, 2, windows[1].Tokens)
	})

	t.Run("Should return nothing for empty input", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		windows, err := c.Windows("", 10, 2)
		require.NoError(t, err)
		assert.Empty(t, windows)
	})

	t.Run("Should fail with a typed error for non-positive size", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		_, err := c.Windows("text", 0, 0)
		assert.ErrorIs(t, err, knowledge.ErrChunking)
		var ce *knowledge.ChunkingError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("Should clamp overlap not smaller than size and still terminate", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		text := words("t", 12)
		windows, err := c.Windows(text, 3, 7)
		require.NoError(t, err)
		require.NotEmpty(t, windows)
		assert.Len(t, windows, 10)
		assert.Equal(t, text, reconstruct(text, windows))
	})

	t.Run("Should bound every window and reconstruct the source", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		text := "Photosynthesis converts light energy.\n\nChlorophyll absorbs  red and blue light;\tgreen is reflected. " + words("x", 40)
		total := c.Count(text)
		for size := 1; size <= 9; size++ {
			for overlap := -1; overlap <= 11; overlap++ {
				windows, err := c.Windows(text, size, overlap)
				require.NoError(t, err)
				require.NotEmpty(t, windows)
				for _, w := range windows {
					assert.LessOrEqual(t, w.Tokens, size)
					assert.Equal(t, text[w.Start:w.End], w.Text)
				}
				assert.Equal(t, text, reconstruct(text, windows), "size=%d overlap=%d", size, overlap)
				assert.LessOrEqual(t, len(windows), total)
			}
		}
	})

	t.Run("Should never split a multibyte rune", func(t *testing.T) {
		c := NewChunker(byteTokenizer{})
		text := "Zellkern – Mitochondrien ✓ ribosomes 细胞 end"
		for size := 4; size <= 12; size++ {
			windows, err := c.Windows(text, size, size/3)
			require.NoError(t, err)
			for _, w := range windows {
				assert.True(t, utf8.ValidString(w.Text), "invalid window %q", w.Text)
				assert.LessOrEqual(t, w.Tokens, size)
			}
			assert.Equal(t, text, reconstruct(text, windows))
		}
	})

	t.Run("Should return window texts from Chunk", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		parts, err := c.Chunk("a b c d", 2, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a b ", "c d"}, parts)
	})
}

func TestTiktokenTokenizer(t *testing.T) {
	if testing.Short() {
		t.Skip("downloads the BPE ranks on first use")
	}
	t.Run("Should chunk losslessly with the real tokenizer", func(t *testing.T) {
		tok, err := NewTiktokenTokenizer(DefaultEncoding)
		if err != nil {
			t.Skipf("encoding unavailable: %v", err)
		}
		c := NewChunker(tok)
		text := "Mitochondria are the powerhouse of the cell. Ribosomes – tiny factories – build proteins. 细胞膜"
		windows, err := c.Windows(text, 8, 2)
		require.NoError(t, err)
		for _, w := range windows {
			assert.LessOrEqual(t, w.Tokens, 8)
			assert.True(t, utf8.ValidString(w.Text))
		}
		assert.Equal(t, text, reconstruct(text, windows))
	})
}
