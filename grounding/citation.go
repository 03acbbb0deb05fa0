// Package grounding checks generated answers against the sources they were
// given: inline [Source N] markers are resolved to retrieved chunks, markers
// that point nowhere are stripped, and a confidence grade is derived.
package grounding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"expertpanel-backend/models"
)

// ExcerptLength caps the excerpt stored with each citation
const ExcerptLength = 200

var (
	sourceMarkerRe     = regexp.MustCompile(`(?i)\[\s*source\s+(\d+)\s*\]`)
	repeatedSpaceRe    = regexp.MustCompile(`(\S)[ \t]{2,}`)
	spaceBeforePunctRe = regexp.MustCompile(`[ \t]+([.,;:!?)\]])`)
)

// Resolve maps every [Source N] marker in answer to chunks[N-1]. Markers that
// do not resolve are counted as phantom references and removed from the text.
func Resolve(answer string, chunks []models.RetrievedChunk) models.CitationResult {
	res := models.CitationResult{
		Citations:      []models.CitationEntry{},
		UnresolvedRefs: []string{},
	}

	matches := sourceMarkerRe.FindAllStringSubmatchIndex(answer, -1)
	emitted := make(map[int]bool)
	unresolved := make(map[string]bool)

	var cleaned strings.Builder
	last := 0
	for _, m := range matches {
		marker := answer[m[0]:m[1]]
		n, err := strconv.Atoi(answer[m[2]:m[3]])
		if err != nil || n < 1 || n > len(chunks) {
			res.PhantomCount++
			if !unresolved[marker] {
				unresolved[marker] = true
				res.UnresolvedRefs = append(res.UnresolvedRefs, marker)
			}
			last = cut(&cleaned, answer, last, m[0], m[1])
			continue
		}

		res.RealRefCount++
		if emitted[n] {
			continue
		}
		emitted[n] = true
		res.Citations = append(res.Citations, newCitation(n, chunks[n-1]))
	}

	if res.PhantomCount > 0 {
		cleaned.WriteString(answer[last:])
		res.CleanedAnswer = tidy(cleaned.String())
	} else {
		res.CleanedAnswer = strings.TrimSpace(answer)
	}

	res.Confidence = ScoreConfidence(len(chunks), res.RealRefCount, res.PhantomCount)
	return res
}

// ScoreConfidence grades grounding from reference counts. Fabricated markers
// weigh more than repeated real ones.
func ScoreConfidence(sources, realRefs, phantomRefs int) models.Confidence {
	switch {
	case sources == 0 || realRefs == 0 || phantomRefs > realRefs:
		return models.ConfidenceLow
	case realRefs >= 2 && phantomRefs == 0:
		return models.ConfidenceHigh
	default:
		return models.ConfidenceMedium
	}
}

func newCitation(rank int, chunk models.RetrievedChunk) models.CitationEntry {
	return models.CitationEntry{
		ID:         fmt.Sprintf("source-%d", rank),
		Document:   chunk.DocumentName,
		DocumentID: chunk.DocumentID,
		ChunkID:    chunk.ID,
		SourceRank: rank,
		Similarity: chunk.Similarity,
		Page:       chunk.PageNumber,
		Section:    chunk.SectionTitle,
		Excerpt:    Excerpt(chunk.Content),
	}
}

// Excerpt collapses whitespace and truncates to ExcerptLength runes
func Excerpt(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(s) <= ExcerptLength {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:ExcerptLength-3])) + "..."
}

// cut copies answer[last:start] into b and skips the marker at start:end.
// When the marker was the only thing inside a pair of parentheses, the pair
// goes too. It returns the offset where copying resumes.
func cut(b *strings.Builder, answer string, last, start, end int) int {
	before := answer[last:start]
	open := strings.TrimRight(before, " \t")
	rest := answer[end:]
	closing := strings.TrimLeft(rest, " \t")

	if strings.HasSuffix(open, "(") && strings.HasPrefix(closing, ")") {
		b.WriteString(open[:len(open)-1])
		return end + len(rest) - len(closing) + 1
	}
	b.WriteString(before)
	return end
}

// tidy repairs spacing left behind by removed markers
func tidy(s string) string {
	s = repeatedSpaceRe.ReplaceAllString(s, "$1 ")
	s = spaceBeforePunctRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
