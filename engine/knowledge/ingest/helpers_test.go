package ingest

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/engine/knowledge/fileindex"
	"github.com/compozy/tutorrag/engine/knowledge/vectordb"
	"github.com/stretchr/testify/require"
)

const testDim = 8

var wordPiece = regexp.MustCompile(`\S+\s*|\s+`)

type wordTokenizer struct {
	mu     sync.Mutex
	ids    map[string]int
	pieces []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: map[string]int{}}
}

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []int
	for _, piece := range wordPiece.FindAllString(text, -1) {
		id, ok := w.ids[piece]
		if !ok {
			id = len(w.pieces)
			w.ids[piece] = id
			w.pieces = append(w.pieces, piece)
		}
		out = append(out, id)
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(w.pieces[t])
	}
	return b.String()
}

// stubEmbedder maps text to a bag-of-letters vector and can be told to fail.
type stubEmbedder struct {
	calls    atomic.Int32
	failures atomic.Int32
	jitter   bool
}

func vectorFor(text string) []float32 {
	vec := make([]float32, testDim)
	for i := range vec {
		vec[i] = 0.01
	}
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[int(r-'a')%testDim]++
		}
	}
	return vec
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return nil, errors.Join(knowledge.ErrEmbeddingUnavailable, errors.New("provider down"))
	}
	if s.jitter {
		time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = vectorFor(text)
	}
	return out, nil
}

type recordingCache struct {
	mu      sync.Mutex
	tenants []string
}

func (c *recordingCache) InvalidateTenant(_ context.Context, tenant string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants = append(c.tenants, tenant)
	return nil
}

type fixture struct {
	root     string
	store    *vectordb.MemoryStore
	index    *fileindex.Index
	embedder *stubEmbedder
	cache    *recordingCache
	pipeline *Pipeline
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		root:     t.TempDir(),
		store:    vectordb.NewMemoryStore(testDim),
		embedder: &stubEmbedder{},
		cache:    &recordingCache{},
	}
	f.index = fileindex.New(f.root)
	opts := Options{
		Root:      f.root,
		Tokenizer: newWordTokenizer(),
		Cache:     f.cache,
		Retry:     RetrySettings{Attempts: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
	opts.Chunking.Size = 50
	opts.Chunking.Overlap = 10
	for _, fn := range mutate {
		fn(&opts)
	}
	p, err := NewPipeline(f.embedder, f.store, f.index, opts)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func (f *fixture) write(t *testing.T, tenant, name, content string) {
	t.Helper()
	path := filepath.Join(f.root, tenant, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// chunksOf returns the stored chunks of file ordered by index.
func (f *fixture) chunksOf(t *testing.T, tenant, file string) []vectordb.Match {
	t.Helper()
	matches, err := f.store.Search(t.Context(), tenant, vectorFor("probe"), vectordb.SearchOptions{
		TopK:    1000,
		Filters: map[string]string{knowledge.MetaSource: file},
	})
	require.NoError(t, err)
	ordered := make([]vectordb.Match, len(matches))
	for _, m := range matches {
		idx, ok := m.Metadata[knowledge.MetaIndex].(int)
		require.True(t, ok)
		ordered[idx] = m
	}
	return ordered
}

func paragraph(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix + string(rune('a'+i%26))
	}
	return strings.Join(parts, " ")
}
