package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/compozy/tutorrag/engine/knowledge"
)

// Section is a chunk produced by the heading-aware chunker.
type Section struct {
	Heading    string
	Text       string
	Tokens     int
	Paragraphs []string
}

var (
	headingPattern   = regexp.MustCompile(`^#+\s+(.*)$`)
	paragraphBreak   = regexp.MustCompile(`\n[ \t]*\n`)
	paragraphJoiner  = "\n\n"
	fencePrefixes    = []string{"```", "~~~"}
	closingHashTrail = regexp.MustCompile(`\s+#+\s*$`)
)

type mdSection struct {
	heading string
	body    []string
}

// ChunkByStructure splits markdown on heading lines, then packs whole
// paragraphs of each section into chunks of at most size tokens. A new
// chunk starts with trailing paragraphs of the previous one until at
// least overlap tokens are carried. A paragraph longer than size becomes
// its own chunk.
func (c *Chunker) ChunkByStructure(text string, size, overlap int) ([]Section, error) {
	if size <= 0 {
		return nil, &knowledge.ChunkingError{Reason: fmt.Sprintf("chunk size must be positive, got %d", size)}
	}
	overlap = knowledge.ValidOverlap(overlap, size)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var out []Section
	for _, sec := range splitSections(text) {
		paras := splitParagraphs(strings.Join(sec.body, "\n"))
		out = append(out, c.packParagraphs(sec.heading, paras, size, overlap)...)
	}
	return out, nil
}

func (c *Chunker) packParagraphs(heading string, paras []string, size, overlap int) []Section {
	var (
		out     []Section
		current []string
		carried int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.Join(current, paragraphJoiner)
		out = append(out, Section{
			Heading:    heading,
			Text:       joined,
			Tokens:     c.Count(joined),
			Paragraphs: append([]string(nil), current...),
		})
	}
	for _, p := range paras {
		if len(current) > 0 && c.Count(strings.Join(append(current, p), paragraphJoiner)) > size {
			if len(current) > carried {
				flush()
				current = c.carryTail(current, p, size, overlap)
			} else {
				current = nil
			}
			if len(current) > 0 && c.Count(strings.Join(append(current, p), paragraphJoiner)) > size {
				current = nil
			}
			carried = len(current)
		}
		current = append(current, p)
		if len(current) == 1 && c.Count(p) > size {
			flush()
			current = nil
			carried = 0
		}
	}
	if len(current) > carried {
		flush()
	}
	return out
}

// carryTail returns whole trailing paragraphs of flushed, newest last,
// stopping once overlap tokens are reached. It never carries every
// paragraph and drops the oldest carried ones if next would not fit.
func (c *Chunker) carryTail(flushed []string, next string, size, overlap int) []string {
	if overlap <= 0 || len(flushed) < 2 {
		return nil
	}
	var tail []string
	tokens := 0
	for i := len(flushed) - 1; i > 0 && tokens < overlap; i-- {
		tail = append([]string{flushed[i]}, tail...)
		tokens += c.Count(flushed[i])
	}
	for len(tail) > 0 && c.Count(strings.Join(append(append([]string(nil), tail...), next), paragraphJoiner)) > size {
		tail = tail[1:]
	}
	return tail
}

// splitSections cuts text at heading lines outside fenced code blocks.
// Text before the first heading forms a section with an empty heading.
func splitSections(text string) []mdSection {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	sections := []mdSection{{}}
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isFence(trimmed) {
			inFence = !inFence
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				heading := strings.TrimSpace(closingHashTrail.ReplaceAllString(m[1], ""))
				sections = append(sections, mdSection{heading: heading})
				continue
			}
		}
		last := &sections[len(sections)-1]
		last.body = append(last.body, line)
	}
	if strings.TrimSpace(strings.Join(sections[0].body, "")) == "" {
		sections = sections[1:]
	}
	return sections
}

func isFence(line string) bool {
	for _, p := range fencePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func splitParagraphs(body string) []string {
	parts := paragraphBreak.Split(body, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
