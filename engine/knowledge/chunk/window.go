package chunk

import (
	"fmt"
	"unicode/utf8"

	"github.com/compozy/tutorrag/engine/knowledge"
)

// Window is one token-bounded slice of a text. Start and End are byte
// offsets into the chunked text, so consecutive windows share the bytes
// in [next.Start, prev.End).
type Window struct {
	Text   string
	Start  int
	End    int
	Tokens int
}

// Chunker splits text into token-bounded pieces using a real tokenizer.
type Chunker struct {
	tok Tokenizer
}

func NewChunker(tok Tokenizer) *Chunker {
	return &Chunker{tok: tok}
}

// Count returns the number of tokens in text.
func (c *Chunker) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.tok.Encode(text))
}

// Chunk returns the window texts of text.
func (c *Chunker) Chunk(text string, size, overlap int) ([]string, error) {
	windows, err := c.Windows(text, size, overlap)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(windows))
	for i := range windows {
		out[i] = windows[i].Text
	}
	return out, nil
}

// Windows slides a size-token window over text advancing by size-overlap
// tokens. Overlap is clamped into [0, size-1]; a final partial window is
// emitted when tokens remain.
func (c *Chunker) Windows(text string, size, overlap int) ([]Window, error) {
	if size <= 0 {
		return nil, &knowledge.ChunkingError{Reason: fmt.Sprintf("chunk size must be positive, got %d", size)}
	}
	overlap = knowledge.ValidOverlap(overlap, size)
	if text == "" {
		return nil, nil
	}
	tokens := c.tok.Encode(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	offsets, ok := c.byteOffsets(text, tokens)
	if !ok {
		return c.decodedWindows(tokens, size, overlap), nil
	}
	step := size - overlap
	var out []Window
	prevEnd := 0
	for start := 0; ; {
		end := min(start+size, len(tokens))
		s := alignForward(text, offsets, start, prevEnd)
		e := alignBackward(text, offsets, end, s)
		if e <= s {
			e = alignForwardEnd(text, offsets, end)
		}
		out = append(out, Window{
			Text:   text[offsets[s]:offsets[e]],
			Start:  offsets[s],
			End:    offsets[e],
			Tokens: e - s,
		})
		if e >= len(tokens) {
			break
		}
		prevEnd = e
		start = min(s+step, e)
	}
	return out, nil
}

// byteOffsets maps token i to the byte offset where it starts; the last
// entry is len(text). It reports false when per-token decoding does not
// reproduce text, in which case windows are decoded as token runs.
func (c *Chunker) byteOffsets(text string, tokens []int) ([]int, bool) {
	offsets := make([]int, len(tokens)+1)
	pos := 0
	for i, t := range tokens {
		offsets[i] = pos
		pos += len(c.tok.Decode([]int{t}))
		if pos > len(text) {
			return nil, false
		}
	}
	offsets[len(tokens)] = pos
	return offsets, pos == len(text)
}

func (c *Chunker) decodedWindows(tokens []int, size, overlap int) []Window {
	step := size - overlap
	var out []Window
	for start := 0; start < len(tokens); start += step {
		end := min(start+size, len(tokens))
		out = append(out, Window{Text: c.tok.Decode(tokens[start:end]), Start: -1, End: -1, Tokens: end - start})
		if end == len(tokens) {
			break
		}
	}
	return out
}

func onRuneBoundary(text string, off int) bool {
	return off >= len(text) || utf8.RuneStart(text[off])
}

// alignForward moves token index i forward until its byte offset starts a
// rune, never past limit (the previous window's end, already aligned).
func alignForward(text string, offsets []int, i, limit int) int {
	for i < limit && !onRuneBoundary(text, offsets[i]) {
		i++
	}
	return i
}

// alignBackward moves an end index backward to a rune boundary, not below floor.
func alignBackward(text string, offsets []int, i, floor int) int {
	for i > floor && !onRuneBoundary(text, offsets[i]) {
		i--
	}
	return i
}

func alignForwardEnd(text string, offsets []int, i int) int {
	for i < len(offsets)-1 && !onRuneBoundary(text, offsets[i]) {
		i++
	}
	return i
}
