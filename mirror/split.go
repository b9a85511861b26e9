package mirror

import (
	"strings"
	"unicode"
)

// SplitMessage cuts text into chunks of at most limit runes, breaking at the
// last whitespace inside the window so words stay intact. A single run longer
// than the window is hard-cut. Leading whitespace of follow-up chunks is
// trimmed; empty text yields no chunks.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = 1900
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cut := -1
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}
		if chunk := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && unicode.IsSpace(runes[0]) {
			runes = runes[1:]
		}
	}
	return chunks
}
