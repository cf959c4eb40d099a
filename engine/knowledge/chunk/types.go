package chunk

// Document represents extracted text prior to chunking.
type Document struct {
	Source      string
	ContentType string
	Text        string
	Metadata    map[string]any
}

// Settings configures chunking and preprocessing behavior.
type Settings struct {
	Strategy          string
	Size              int
	Overlap           int
	RemoveHTML        bool
	Deduplicate       bool
	NormalizeNewlines bool
}

// Chunk represents a processed slice ready for embedding. Index is the
// 0-based position within the source document.
type Chunk struct {
	Index    int
	Heading  string
	Text     string
	Hash     string
	Tokens   int
	Metadata map[string]any
}
