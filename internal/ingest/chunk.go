package ingest

import "strings"

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping windows of at most Size
// characters. Cuts prefer paragraph, line, sentence and word boundaries
// in that order, searched in the back half of each window.
type Chunker struct {
	Size    int
	Overlap int
}

func (c Chunker) normalized() Chunker {
	if c.Size <= 0 {
		c.Size = DefaultChunkSize
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.Size {
		c.Overlap = c.Size / 5
	}
	return c
}

// Split returns the chunks of text in order. Empty input yields none.
func (c Chunker) Split(text string) []string {
	c = c.normalized()
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + c.Size
		if end >= n {
			end = n
		} else {
			end = breakPoint(runes, start+c.Size/2, end)
		}

		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			chunks = append(chunks, s)
		}
		if end == n {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = skipSpace(runes, next)
	}
	return chunks
}

// breakPoint returns the best cut in runes[lo:hi], or hi when the
// window holds no boundary.
func breakPoint(runes []rune, lo, hi int) int {
	window := string(runes[lo:hi])
	for _, sep := range []string{"\n\n", "\n", ". ", "? ", "! ", " "} {
		if i := strings.LastIndex(window, sep); i >= 0 {
			return lo + len([]rune(window[:i])) + len([]rune(sep))
		}
	}
	return hi
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && (runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' || runes[i] == '\r') {
		i++
	}
	return i
}
