package views

import (
	"strings"
	"unicode"

	"github.com/rivo/tview"
)

// display prepares peer-supplied text for a dynamic-color cell: runes that
// tcell cannot lay out are dropped and color tags are escaped.
func display(s string) string {
	return tview.Escape(strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s))
}

// oneLine collapses runs of whitespace, newlines included, into single spaces
// for list previews.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dropRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	case r != '\n' && r != '\t' && unicode.IsControl(r):
		return true
	}
	return false
}
