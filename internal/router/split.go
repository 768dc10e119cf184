package router

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// SplitText breaks text into chunks of at most maxWidth display cells,
// measured with rune widths so CJK text is not cut mid-screen-column.
// Breaks prefer a newline, then a space, then fall back to a hard cut.
// maxWidth <= 0 returns the text unsplit.
func SplitText(text string, maxWidth int) []string {
	if maxWidth <= 0 || runewidth.StringWidth(text) <= maxWidth {
		return []string{text}
	}

	runes := []rune(text)
	var out []string

	for len(runes) > 0 {
		width := 0
		cut := 0
		lastNewline := -1
		lastSpace := -1

		for i, r := range runes {
			w := runewidth.RuneWidth(r)
			if width+w > maxWidth {
				break
			}
			width += w
			cut = i + 1
			switch r {
			case '\n':
				lastNewline = i
			case ' ':
				lastSpace = i
			}
		}

		if cut >= len(runes) {
			out = append(out, strings.TrimSpace(string(runes)))
			break
		}

		switch {
		case lastNewline > 0:
			out = append(out, strings.TrimSpace(string(runes[:lastNewline])))
			runes = runes[lastNewline+1:]
		case lastSpace > 0:
			out = append(out, strings.TrimSpace(string(runes[:lastSpace])))
			runes = runes[lastSpace+1:]
		default:
			out = append(out, string(runes[:cut]))
			runes = runes[cut:]
		}
	}

	// Drop empty chunks produced by consecutive separators.
	filtered := out[:0]
	for _, c := range out {
		if c != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
