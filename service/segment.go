package service

import (
	"strings"
	"unicode/utf8"
)

// MaxSegmentRunes caps the size of one review segment
const MaxSegmentRunes = 2000

// Segment is a contiguous span of a reviewed document
type Segment struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	StartLine int    `json:"start_line"` // 1-based, inclusive
	EndLine   int    `json:"end_line"`
}

// SegmentDocument splits content on blank lines and packs consecutive blocks
// into one segment while it stays within MaxSegmentRunes. A block that alone
// exceeds the cap is split at line boundaries, and a single line that is
// still too long is cut into fixed-size pieces.
func SegmentDocument(content string) []Segment {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	segments := []Segment{}
	add := func(text string, start, end int) {
		segments = append(segments, Segment{
			Index:     len(segments),
			Text:      text,
			StartLine: start,
			EndLine:   end,
		})
	}

	var (
		packed     []string
		packedLen  int
		packedFrom int
		packedTo   int
	)
	emitPacked := func() {
		if len(packed) > 0 {
			add(strings.Join(packed, "\n\n"), packedFrom, packedTo)
		}
		packed, packedLen = nil, 0
	}

	var block []string
	blockStart := 0
	flush := func() {
		if len(block) == 0 {
			return
		}
		blockLines := block
		block = nil
		text := strings.Join(blockLines, "\n")
		n := utf8.RuneCountInString(text)

		if n > MaxSegmentRunes {
			emitPacked()
			splitBlock(blockLines, blockStart, add)
			return
		}

		// +2 for the blank line joining packed blocks
		if len(packed) > 0 && packedLen+2+n > MaxSegmentRunes {
			emitPacked()
		}
		if len(packed) == 0 {
			packedFrom = blockStart
			packedLen = n
		} else {
			packedLen += 2 + n
		}
		packed = append(packed, text)
		packedTo = blockStart + len(blockLines) - 1
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if len(block) == 0 {
			blockStart = i + 1
		}
		block = append(block, strings.TrimRight(line, " \t"))
	}
	flush()
	emitPacked()

	return segments
}

// splitBlock emits an over-long block as several segments cut at line boundaries
func splitBlock(block []string, firstLine int, add func(text string, start, end int)) {
	var (
		current      []string
		currentStart int
		currentLen   int
	)
	emit := func() {
		if len(current) > 0 {
			add(strings.Join(current, "\n"), currentStart, currentStart+len(current)-1)
		}
		current, currentLen = nil, 0
	}

	for i, line := range block {
		lineNo := firstLine + i
		n := utf8.RuneCountInString(line)

		if n > MaxSegmentRunes {
			emit()
			runes := []rune(line)
			for off := 0; off < len(runes); off += MaxSegmentRunes {
				end := min(off+MaxSegmentRunes, len(runes))
				add(string(runes[off:end]), lineNo, lineNo)
			}
			continue
		}

		// +1 for the joining newline
		if len(current) > 0 && currentLen+1+n > MaxSegmentRunes {
			emit()
		}
		if len(current) == 0 {
			currentStart = lineNo
			currentLen = n
		} else {
			currentLen += 1 + n
		}
		current = append(current, line)
	}
	emit()
}
