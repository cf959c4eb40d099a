package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is one embedding backend. Implementations return exactly one
// vector per input text, in input order.
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
