package chunk

import (
	"strings"
	"testing"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_Process(t *testing.T) {
	t.Run("Should chunk markdown by headings and tag metadata", func(t *testing.T) {
		p, err := NewProcessor(newWordTokenizer(), Settings{Size: 50, Overlap: 10})
		require.NoError(t, err)
		text := "# Enzymes\n\n" + words("e", 30) + "\n\n" + words("f", 30)
		chunks, err := p.Process(Document{Source: "enzymes.md", Text: text, Metadata: map[string]any{"course": "bio"}})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.Equal(t, "Enzymes", c.Heading)
			assert.Equal(t, "enzymes.md", c.Metadata[knowledge.MetaSource])
			assert.Equal(t, i, c.Metadata[knowledge.MetaIndex])
			assert.Equal(t, "Enzymes", c.Metadata[knowledge.MetaHeading])
			assert.Equal(t, "bio", c.Metadata["course"])
			assert.Len(t, c.Hash, 32)
		}
	})

	t.Run("Should use token windows for plain text with a nil heading", func(t *testing.T) {
		p, err := NewProcessor(newWordTokenizer(), Settings{Size: 5, Overlap: 1})
		require.NoError(t, err)
		chunks, err := p.Process(Document{Source: "notes.txt", Text: words("n", 13)})
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for _, c := range chunks {
			assert.LessOrEqual(t, c.Tokens, 5)
			v, ok := c.Metadata[knowledge.MetaHeading]
			assert.True(t, ok)
			assert.Nil(t, v)
		}
	})

	t.Run("Should honor an explicit strategy over the extension", func(t *testing.T) {
		p, err := NewProcessor(newWordTokenizer(), Settings{Strategy: StrategyTokenWindow, Size: 4})
		require.NoError(t, err)
		chunks, err := p.Process(Document{Source: "a.md", Text: "# H\n\none two three four five"})
		require.NoError(t, err)
		assert.Len(t, chunks, 2)
		assert.Empty(t, chunks[0].Heading)
	})

	t.Run("Should split with the recursive strategy under the token budget", func(t *testing.T) {
		p, err := NewProcessor(newWordTokenizer(), Settings{Strategy: StrategyRecursive, Size: 10, Overlap: 2})
		require.NoError(t, err)
		text := words("r", 9) + "\n\n" + words("s", 9) + "\n\n" + words("t", 9)
		chunks, err := p.Process(Document{Source: "r.txt", Text: text})
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, c.Tokens, 10)
		}
	})

	t.Run("Should strip HTML and drop duplicate chunks", func(t *testing.T) {
		p, err := NewProcessor(newWordTokenizer(), Settings{
			Strategy:    StrategyMarkdown,
			Size:        20,
			RemoveHTML:  true,
			Deduplicate: true,
		})
		require.NoError(t, err)
		html := "<html><head><style>p{}</style><script>var x=1;</script></head><body>" +
			"<h1>Title</h1><p>Same words here</p><p>Same words here</p></body></html>"
		chunks, err := p.Process(Document{Source: "page.txt", Text: html})
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		all := make([]string, 0, len(chunks))
		for _, c := range chunks {
			all = append(all, c.Text)
		}
		joined := strings.Join(all, "\n")
		assert.NotContains(t, joined, "<p>")
		assert.NotContains(t, joined, "var x")
		assert.Contains(t, joined, "Same words here")
	})

	t.Run("Should return nothing for blank documents", func(t *testing.T) {
		p, err := NewProcessor(newWordTokenizer(), Settings{Size: 10})
		require.NoError(t, err)
		chunks, err := p.Process(Document{Source: "empty.txt", Text: " \n "})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Should validate settings", func(t *testing.T) {
		_, err := NewProcessor(newWordTokenizer(), Settings{Size: 0})
		assert.ErrorIs(t, err, knowledge.ErrChunking)
		_, err = NewProcessor(newWordTokenizer(), Settings{Size: 10, Strategy: "semantic"})
		assert.Error(t, err)
		_, err = NewProcessor(nil, Settings{Size: 10})
		assert.Error(t, err)
		p, err := NewProcessor(newWordTokenizer(), Settings{Size: 10})
		require.NoError(t, err)
		_, err = p.Process(Document{Text: "x"})
		assert.Error(t, err)
	})
}

func TestIsMarkdown(t *testing.T) {
	t.Run("Should detect markdown by extension or content type", func(t *testing.T) {
		assert.True(t, IsMarkdown("a.MD", ""))
		assert.True(t, IsMarkdown("a.markdown", ""))
		assert.True(t, IsMarkdown("a.txt", "text/markdown"))
		assert.False(t, IsMarkdown("a.pdf", "application/pdf"))
	})
}
