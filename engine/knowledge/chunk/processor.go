package chunk

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/compozy/tutorrag/engine/core"
	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	StrategyAuto        = "auto"
	StrategyTokenWindow = "token_window"
	StrategyMarkdown    = "markdown"
	StrategyRecursive   = "recursive"
)

var newlinePattern = regexp.MustCompile(`\r\n|\r`)

// Processor handles chunking according to supplied configuration.
type Processor struct {
	settings Settings
	chunker  *Chunker
}

// NewProcessor builds a processor with sanitized defaults.
func NewProcessor(tok Tokenizer, settings Settings) (*Processor, error) {
	if tok == nil {
		return nil, errors.New("chunk: tokenizer is required")
	}
	if settings.Strategy == "" {
		settings.Strategy = StrategyAuto
	}
	switch settings.Strategy {
	case StrategyAuto, StrategyTokenWindow, StrategyMarkdown, StrategyRecursive:
	default:
		return nil, fmt.Errorf("chunk: unknown strategy %q", settings.Strategy)
	}
	if settings.Size <= 0 {
		return nil, &knowledge.ChunkingError{Reason: "size must be greater than zero"}
	}
	settings.Overlap = knowledge.ValidOverlap(settings.Overlap, settings.Size)
	return &Processor{settings: settings, chunker: NewChunker(tok)}, nil
}

// Chunker exposes the underlying tokenizer-backed chunker.
func (p *Processor) Chunker() *Chunker {
	return p.chunker
}

// Process splits a document into ordered chunks carrying source, index and
// heading metadata.
func (p *Processor) Process(doc Document) ([]Chunk, error) {
	if strings.TrimSpace(doc.Source) == "" {
		return nil, errors.New("chunk: document source is required")
	}
	text := p.preprocess(doc.Text)
	if text == "" {
		return nil, nil
	}
	pieces, err := p.split(p.strategyFor(doc), text)
	if err != nil {
		return nil, fmt.Errorf("chunk: split %s: %w", doc.Source, err)
	}
	seen := make(map[string]struct{})
	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece.Text) == "" {
			continue
		}
		hash := core.HashText(piece.Text, 32)
		if p.settings.Deduplicate {
			if _, exists := seen[hash]; exists {
				continue
			}
			seen[hash] = struct{}{}
		}
		idx := len(chunks)
		metadata := core.CloneMap(doc.Metadata)
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata[knowledge.MetaSource] = doc.Source
		metadata[knowledge.MetaIndex] = idx
		if piece.Heading != "" {
			metadata[knowledge.MetaHeading] = piece.Heading
		} else {
			metadata[knowledge.MetaHeading] = nil
		}
		metadata[knowledge.MetaChunkHash] = hash
		metadata[knowledge.MetaTokenCount] = piece.Tokens
		if doc.ContentType != "" {
			metadata[knowledge.MetaContentType] = doc.ContentType
		}
		chunks = append(chunks, Chunk{
			Index:    idx,
			Heading:  piece.Heading,
			Text:     piece.Text,
			Hash:     hash,
			Tokens:   piece.Tokens,
			Metadata: metadata,
		})
	}
	return chunks, nil
}

// strategyFor resolves auto to markdown for markdown sources.
func (p *Processor) strategyFor(doc Document) string {
	if p.settings.Strategy != StrategyAuto {
		return p.settings.Strategy
	}
	if IsMarkdown(doc.Source, doc.ContentType) {
		return StrategyMarkdown
	}
	return StrategyTokenWindow
}

// IsMarkdown reports whether a file should be chunked by heading structure.
func IsMarkdown(source, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "markdown") {
		return true
	}
	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func (p *Processor) split(strategy, text string) ([]Section, error) {
	size, overlap := p.settings.Size, p.settings.Overlap
	switch strategy {
	case StrategyMarkdown:
		return p.chunker.ChunkByStructure(text, size, overlap)
	case StrategyRecursive:
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(p.chunker.Count),
		)
		parts, err := splitter.SplitText(text)
		if err != nil {
			return nil, err
		}
		out := make([]Section, 0, len(parts))
		for _, part := range parts {
			out = append(out, Section{Text: part, Tokens: p.chunker.Count(part)})
		}
		return out, nil
	default:
		windows, err := p.chunker.Windows(text, size, overlap)
		if err != nil {
			return nil, err
		}
		out := make([]Section, 0, len(windows))
		for _, w := range windows {
			out = append(out, Section{Text: w.Text, Tokens: w.Tokens})
		}
		return out, nil
	}
}

func (p *Processor) preprocess(text string) string {
	normalized := text
	if p.settings.NormalizeNewlines {
		normalized = newlinePattern.ReplaceAllString(normalized, "\n")
	}
	if p.settings.RemoveHTML {
		normalized = stripHTML(normalized)
	}
	return strings.TrimSpace(normalized)
}
