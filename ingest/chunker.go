package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Piece is one chunk of a document with its location metadata
type Piece struct {
	Content      string
	PageNumber   *int
	SectionTitle *string
}

// Chunker splits documents on paragraph boundaries. Chunks hold at most Size
// runes; each chunk after the first on a page starts with up to Overlap runes
// from the end of the previous one.
type Chunker struct {
	Size    int
	Overlap int
}

var headingRe = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*$`)

// paragraph is a blank-line separated block plus the section it belongs to
type paragraph struct {
	text    string
	section string
}

// Split chunks a document. A chunk never spans a form-feed page break or a
// section heading. Page numbers are only set when the content has page breaks.
func (c Chunker) Split(doc *Document) []Piece {
	size := c.Size
	if size <= 0 {
		size = 1200
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	pages := strings.Split(doc.Content, "\f")
	paged := len(pages) > 1

	var out []Piece
	section := ""
	for pageIdx, page := range pages {
		var paras []paragraph
		paras, section = splitParagraphs(page, section)

		var (
			current     strings.Builder
			currentSect string
		)
		flush := func() {
			if text := strings.TrimSpace(current.String()); text != "" {
				out = append(out, newPiece(text, pageIdx+1, paged, currentSect))
			}
			current.Reset()
		}

		for _, p := range paras {
			if p.section != currentSect {
				flush()
				currentSect = p.section
			}

			for _, part := range splitLong(p.text, size) {
				if current.Len() > 0 && utf8.RuneCountInString(current.String())+2+utf8.RuneCountInString(part) > size {
					tail := overlapTail(current.String(), overlap)
					flush()
					if tail != "" && utf8.RuneCountInString(tail)+2+utf8.RuneCountInString(part) <= size {
						current.WriteString(tail)
					}
				}
				if current.Len() > 0 {
					current.WriteString("\n\n")
				}
				current.WriteString(part)
			}
		}
		flush()
	}

	return out
}

func newPiece(text string, page int, paged bool, section string) Piece {
	p := Piece{Content: text}
	if paged {
		n := page
		p.PageNumber = &n
	}
	if section != "" {
		s := section
		p.SectionTitle = &s
	}
	return p
}

// splitParagraphs groups lines into paragraphs. Heading lines start a new
// section and are kept as the first line of the paragraph that follows.
func splitParagraphs(page, section string) ([]paragraph, string) {
	var (
		out   []paragraph
		lines []string
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		if text != "" {
			out = append(out, paragraph{text: text, section: section})
		}
		lines = lines[:0]
	}

	for _, line := range strings.Split(page, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			section = m[1]
		}
		lines = append(lines, strings.TrimRight(line, " \t"))
	}
	flush()

	return out, section
}

var sentenceEndRe = regexp.MustCompile(`[.!?]["')\]]*\s+`)

// splitLong breaks a paragraph longer than size at sentence ends, then
// word boundaries, then hard rune offsets
func splitLong(text string, size int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	var sentences []string
	last := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		sentences = append(sentences, strings.TrimSpace(text[last:loc[1]]))
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		sentences = append(sentences, rest)
	}

	var (
		out     []string
		current strings.Builder
	)
	for _, s := range sentences {
		for _, w := range splitWords(s, size) {
			if current.Len() > 0 && utf8.RuneCountInString(current.String())+1+utf8.RuneCountInString(w) > size {
				out = append(out, current.String())
				current.Reset()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(w)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// splitWords returns s whole when it fits, otherwise word-packed pieces with
// over-long words cut at size runes
func splitWords(s string, size int) []string {
	if utf8.RuneCountInString(s) <= size {
		return []string{s}
	}

	var (
		out     []string
		current []rune
	)
	for _, word := range strings.Fields(s) {
		r := []rune(word)
		for len(r) > size {
			if len(current) > 0 {
				out = append(out, string(current))
				current = nil
			}
			out = append(out, string(r[:size]))
			r = r[size:]
		}
		if len(current) > 0 && len(current)+1+len(r) > size {
			out = append(out, string(current))
			current = nil
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, r...)
	}
	if len(current) > 0 {
		out = append(out, string(current))
	}
	return out
}

// overlapTail returns at most n runes from the end of text, starting at a
// word boundary. Texts no longer than n have no tail.
func overlapTail(text string, n int) string {
	r := []rune(strings.TrimSpace(text))
	if n <= 0 || len(r) <= n {
		return ""
	}
	tail := string(r[len(r)-n:])
	if i := strings.IndexAny(tail, " \n"); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}
