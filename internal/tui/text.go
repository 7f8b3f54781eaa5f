package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// TruncateWithWidth truncates text to fit within maxWidth, accounting for Unicode character widths.
// Adds "..." if the text is truncated.
func TruncateWithWidth(text string, maxWidth int) string {
	if runewidth.StringWidth(text) <= maxWidth {
		return text
	}
	if maxWidth <= 3 {
		return strings.Repeat(".", max(maxWidth, 0))
	}

	width := 0
	for i, r := range text {
		width += runewidth.RuneWidth(r)
		if width > maxWidth-3 {
			return text[:i] + "..."
		}
	}
	return text
}

// Cell truncates text and pads it with spaces to exactly width columns
func Cell(text string, width int) string {
	text = TruncateWithWidth(text, width)
	return text + strings.Repeat(" ", max(width-runewidth.StringWidth(text), 0))
}
