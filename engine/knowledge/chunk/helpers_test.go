package chunk

import (
	"regexp"
	"strings"
	"sync"
)

var wordPiece = regexp.MustCompile(`\S+\s*|\s+`)

// wordTokenizer treats each word plus its trailing whitespace as one token.
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

// byteTokenizer emits one token per byte, splitting multibyte runes.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix + string(rune('a'+i%26))
	}
	return strings.Join(parts, " ")
}

func reconstruct(text string, windows []Window) string {
	if len(windows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(windows[0].Text)
	for i := 1; i < len(windows); i++ {
		dropped := windows[i-1].End - windows[i].Start
		b.WriteString(windows[i].Text[dropped:])
	}
	return b.String()
}
