package knowledge

import (
	"context"

	appconfig "github.com/compozy/tutorrag/pkg/config"
)

const (
	MinChunkSize     = 16
	MaxChunkSize     = 8192
	DefaultTopK      = 5
	maxRetrievalTopK = 100
	MinScoreFloor    = -1.0
	MaxScoreCeiling  = 1.0
)

// Defaults captures the chunking and retrieval knobs after normalization.
type Defaults struct {
	ChunkSize         int
	ChunkOverlap      int
	RetrievalTopK     int
	RetrievalMinScore float64
	CacheSize         int
}

var builtinDefaults = computeBuiltinDefaults()

// DefaultDefaults returns the built-in defaults used when no configuration override is supplied.
func DefaultDefaults() Defaults {
	return builtinDefaults
}

// DefaultsFromContext retrieves defaults using the application configuration stored in context.
func DefaultsFromContext(ctx context.Context) Defaults {
	return DefaultsFromConfig(appconfig.FromContext(ctx))
}

// DefaultsFromConfig builds Defaults from the application configuration.
// Out-of-range values fall back to the built-in defaults.
func DefaultsFromConfig(cfg *appconfig.Config) Defaults {
	if cfg == nil {
		return builtinDefaults
	}
	return sanitizeDefaults(fromConfig(cfg), builtinDefaults)
}

func fromConfig(cfg *appconfig.Config) Defaults {
	return Defaults{
		ChunkSize:         cfg.Chunking.Size,
		ChunkOverlap:      cfg.Chunking.Overlap,
		RetrievalTopK:     cfg.Retrieval.TopK,
		RetrievalMinScore: cfg.Retrieval.MinScore,
		CacheSize:         cfg.Retrieval.CacheSize,
	}
}

func computeBuiltinDefaults() Defaults {
	fallback := Defaults{
		ChunkSize:         512,
		ChunkOverlap:      64,
		RetrievalTopK:     DefaultTopK,
		RetrievalMinScore: 0.3,
		CacheSize:         256,
	}
	return sanitizeDefaults(fromConfig(appconfig.Default()), fallback)
}

func sanitizeDefaults(in Defaults, fb Defaults) Defaults {
	out := in
	if out.ChunkSize < MinChunkSize || out.ChunkSize > MaxChunkSize {
		out.ChunkSize = clampInt(fb.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	if out.ChunkOverlap < 0 || out.ChunkOverlap >= out.ChunkSize {
		out.ChunkOverlap = ValidOverlap(fb.ChunkOverlap, out.ChunkSize)
	}
	if out.RetrievalTopK < 1 || out.RetrievalTopK > maxRetrievalTopK {
		out.RetrievalTopK = clampInt(fb.RetrievalTopK, 1, maxRetrievalTopK)
	}
	if out.RetrievalMinScore < MinScoreFloor || out.RetrievalMinScore > MaxScoreCeiling {
		out.RetrievalMinScore = clampFloat(fb.RetrievalMinScore, MinScoreFloor, MaxScoreCeiling)
	}
	if out.CacheSize < 1 {
		out.CacheSize = max(fb.CacheSize, 1)
	}
	return out
}

// ValidOverlap clamps overlap into [0, chunkSize-1].
func ValidOverlap(overlap int, chunkSize int) int {
	if chunkSize <= 0 || overlap < 0 {
		return 0
	}
	if overlap >= chunkSize {
		return chunkSize - 1
	}
	return overlap
}

func clampInt(value int, lower int, upper int) int {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}

func clampFloat(value float64, lower float64, upper float64) float64 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}
