package vectordb

import (
	"fmt"
	"math"
	"sort"

	"github.com/compozy/tutorrag/engine/core"
)

// cosineSimilarity returns 1 - cosine distance; zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func metadataMatches(meta map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := meta[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// rank scores records against query and keeps the best topK, ties broken by id.
func rank(records map[string]Record, query []float32, opts SearchOptions) []Match {
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	candidates := make([]Match, 0, len(records))
	for _, rec := range records {
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		candidates = append(candidates, Match{
			ID:       rec.ID,
			Score:    cosineSimilarity(rec.Embedding, query),
			Text:     rec.Text,
			Metadata: core.CloneMap(rec.Metadata),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

func cloneRecord(rec Record) Record {
	return Record{
		ID:        rec.ID,
		Text:      rec.Text,
		Embedding: append([]float32(nil), rec.Embedding...),
		Metadata:  core.CloneMap(rec.Metadata),
	}
}
