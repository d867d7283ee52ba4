// Package chunk splits canonical document text into overlapping,
// word-boundary-aware windows for embedding. The chunker is pure and
// deterministic: the same input always yields the same chunk sequence,
// so chunk indices can be assigned before any embedding completes.
package chunk

import (
	"strings"
	"unicode"
)

// Defaults for chunk windowing.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Chunk is one window of text with its position in the source.
type Chunk struct {
	Text  string // trimmed slice of the input
	Start int    // byte offset of the window start (pre-trim)
	End   int    // byte offset of the window end (pre-trim)
	Index int    // 0-based, monotonically increasing
}

// Split walks a cursor over text producing windows of at most size bytes.
// When a window would cut mid-word, the end is pulled back to the last
// whitespace boundary strictly after the window start. Consecutive windows
// overlap by at most overlap bytes; the cursor always advances by at least
// one byte so the walk terminates even when overlap >= size.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}

	chunks := []Chunk{}
	if len(text) == 0 {
		return chunks
	}

	index := 0
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}

		if end < len(text) {
			if ws := lastSpaceAfter(text, start, end); ws > start {
				end = ws
			}
		}

		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			chunks = append(chunks, Chunk{
				Text:  piece,
				Start: start,
				End:   end,
				Index: index,
			})
			index++
		}

		if end >= len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// SplitDefault chunks with the default window size and overlap.
func SplitDefault(text string) []Chunk {
	return Split(text, DefaultChunkSize, DefaultOverlap)
}

// lastSpaceAfter returns the offset of the last whitespace byte in
// text[start:end], or start if none exists strictly after start.
func lastSpaceAfter(text string, start, end int) int {
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(rune(text[i])) {
			return i
		}
	}
	return start
}
