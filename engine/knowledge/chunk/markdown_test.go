package chunk

import (
	"strings"
	"testing"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ChunkByStructure(t *testing.T) {
	t.Run("Should carry the trailing paragraph into the next chunk", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		p1, p2, p3 := words("a", 20), words("b", 20), words("c", 20)
		text := "# Cell Biology\n\n" + p1 + "\n\n" + p2 + "\n\n" + p3 + "\n"

		sections, err := c.ChunkByStructure(text, 50, 10)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(sections), 2)
		for _, s := range sections {
			assert.Equal(t, "Cell Biology", s.Heading)
			assert.LessOrEqual(t, s.Tokens, 50)
		}
		prev := sections[len(sections)-2]
		last := sections[len(sections)-1]
		assert.Equal(t, prev.Paragraphs[len(prev.Paragraphs)-1], last.Paragraphs[0])
		assert.Equal(t, []string{p1, p2}, sections[0].Paragraphs)
		assert.Equal(t, []string{p2, p3}, last.Paragraphs)
	})

	t.Run("Should never split a paragraph", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		paras := []string{words("p", 7), words("q", 3), words("r", 12), words("s", 5), words("t", 9), words("u", 2)}
		text := "Intro line\n\n## Part\n\n" + strings.Join(paras, "\n\n")
		known := map[string]bool{"Intro line": true}
		for _, p := range paras {
			known[p] = true
		}
		for size := 1; size <= 30; size += 3 {
			for _, overlap := range []int{0, 2, 5, 40} {
				sections, err := c.ChunkByStructure(text, size, overlap)
				require.NoError(t, err)
				for _, s := range sections {
					for _, p := range s.Paragraphs {
						assert.True(t, known[p], "split paragraph %q", p)
					}
					assert.Equal(t, strings.Join(s.Paragraphs, "\n\n"), s.Text)
				}
			}
		}
	})

	t.Run("Should emit an oversized paragraph as its own chunk", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		big := words("z", 60)
		text := "# Notes\n\n" + words("a", 5) + "\n\n" + big + "\n\n" + words("b", 5)
		sections, err := c.ChunkByStructure(text, 50, 4)
		require.NoError(t, err)
		require.Len(t, sections, 3)
		assert.Equal(t, big, sections[1].Text)
		assert.Equal(t, 60, sections[1].Tokens)
	})

	t.Run("Should keep preamble and ignore headings inside code fences", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		text := "Course overview.\n\n# Week 1\n\n```bash\n# not a heading\necho hi\n```\n\n## Week 2 ##\n\nReading list."
		sections, err := c.ChunkByStructure(text, 100, 0)
		require.NoError(t, err)
		require.Len(t, sections, 3)
		assert.Equal(t, "", sections[0].Heading)
		assert.Equal(t, "Week 1", sections[1].Heading)
		assert.Contains(t, sections[1].Text, "# not a heading")
		assert.Equal(t, "Week 2", sections[2].Heading)
	})

	t.Run("Should not repeat a chunk when the carry covers everything", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		text := words("a", 4) + "\n\n" + words("b", 4) + "\n\n" + words("c", 4)
		sections, err := c.ChunkByStructure(text, 8, 7)
		require.NoError(t, err)
		for i := 1; i < len(sections); i++ {
			assert.NotEqual(t, sections[i-1].Text, sections[i].Text)
		}
		assert.Equal(t, words("c", 4), sections[len(sections)-1].Paragraphs[len(sections[len(sections)-1].Paragraphs)-1])
	})

	t.Run("Should handle empty input and invalid size", func(t *testing.T) {
		c := NewChunker(newWordTokenizer())
		sections, err := c.ChunkByStructure("  \n\n ", 10, 2)
		require.NoError(t, err)
		assert.Empty(t, sections)
		_, err = c.ChunkByStructure("text", -1, 0)
		assert.ErrorIs(t, err, knowledge.ErrChunking)
	})
}
