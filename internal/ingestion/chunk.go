package ingestion

import (
	"strings"
	"unicode"
)

// Chunk splits text into windows of at most size runes, each starting
// size-overlap runes after the previous one. A window that would cut a word
// is pulled back to the last whitespace in its final fifth. Chunks are
// trimmed and blank chunks dropped.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = softBreak(runes, start, end, size)
		}
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}
	return chunks
}

// softBreak moves end back to just after the last whitespace in the final
// fifth of the window, or leaves it unchanged when there is none.
func softBreak(runes []rune, start, end, size int) int {
	floor := end - size/5
	for i := end; i > floor && i > start; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
