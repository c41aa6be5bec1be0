package extract

import "strings"

// Default chunking for conversation text, in characters.
const (
	DefaultChunkSize = 1500
	DefaultOverlap   = 200
)

// SplitText cuts text into overlapping chunks of roughly size characters.
// A cut prefers a blank line near the target end, then a single newline,
// then falls back to a hard cut. Chunks are trimmed and empty ones dropped.
// The last chunk always ends at the end of text.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	runes := []rune(text)
	n := len(runes)
	if n <= size {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + size
		if end < n {
			lo := max(start+size/2, end-200)
			if pos := lastIndexRunes(runes, "\n\n", lo, end+200); pos > lo {
				end = pos + 2
			} else if pos := lastIndexRunes(runes, "\n", lo, end+100); pos > lo {
				end = pos + 1
			}
		}
		end = min(end, n)

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastIndexRunes finds the last occurrence of sub lying entirely inside
// r[lo:hi], or -1.
func lastIndexRunes(r []rune, sub string, lo, hi int) int {
	s := []rune(sub)
	hi = min(hi, len(r))
	lo = max(lo, 0)
	for i := hi - len(s); i >= lo; i-- {
		match := true
		for j := range s {
			if r[i+j] != s[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
