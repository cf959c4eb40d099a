package knowledge

import "github.com/compozy/tutorrag/engine/core"

// NoMaterialsMessage is what callers show when retrieval yields nothing.
const NoMaterialsMessage = "no supporting materials found"

// Metadata keys written on every stored chunk.
const (
	MetaSource      = "source"
	MetaIndex       = "index"
	MetaHeading     = "heading"
	MetaTenant      = "tenant"
	MetaChunkHash   = "chunk_hash"
	MetaContentType = "content_type"
	MetaTokenCount  = "token_count"
)

// Result is a single retrieved chunk with its similarity score.
type Result struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// CloneResults returns a deep copy so cached slices are never shared with callers.
func CloneResults(in []Result) []Result {
	if in == nil {
		return nil
	}
	out := make([]Result, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].Metadata = core.CloneMap(in[i].Metadata)
	}
	return out
}

// SourceOf returns the source file recorded in a chunk's metadata.
func SourceOf(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[MetaSource].(string)
	return s
}
