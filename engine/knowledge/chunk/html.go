package chunk

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true, atom.Table: true,
}

// stripHTML keeps the text content of markup, dropping scripts and styles.
// Block elements become paragraph breaks so structure-aware chunking still
// sees separate paragraphs.
func stripHTML(input string) string {
	if !strings.Contains(input, "<") {
		return input
	}
	z := html.NewTokenizer(strings.NewReader(input))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return collapseBlankLines(b.String())
			}
			return input
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if blockElements[tok.DataAtom] {
				b.WriteString("\n\n")
			}
		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blockElements[tok.DataAtom] {
				b.WriteString("\n\n")
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
