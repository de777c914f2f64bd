package storage

import (
	"strings"
	"unicode/utf8"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// SplitText breaks a page's text into overlapping chunks sized for
// embedding. Splits prefer paragraph, then sentence, then word boundaries
// near the target size; a trailing overlap carries context between chunks.
func SplitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}
		cut := findSplit(text, start, end)
		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := runeAligned(text, cut-chunkOverlap)
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// findSplit looks backwards from the limit for a natural boundary, falling
// back to a hard cut when the window has none.
func findSplit(text string, start, limit int) int {
	window := text[start:limit]
	for _, sep := range []string{"\n\n", "\n", ". ", "。", " "} {
		if idx := strings.LastIndex(window, sep); idx > chunkOverlap {
			return start + idx + len(sep)
		}
	}
	// Hard cuts must still land on a rune boundary or the chunk carries
	// invalid UTF-8 into the embedding request.
	if cut := runeAligned(text, limit); cut > start {
		return cut
	}
	return limit
}

// runeAligned walks pos back to the start of the rune it falls inside.
func runeAligned(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}
