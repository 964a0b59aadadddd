package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is the number of hints stacked per column; it matches the header height.
const menuRows = 6

// Menu lays key hints out in columns next to the session info.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates an empty hint menu.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update redraws the menu. Hints fill column by column, menuRows at a time.
func (m *Menu) Update(hints []Hint) {
	m.Clear()
	_, _ = fmt.Fprint(m, layoutHints(hints, menuRows, colorName(m.theme.MenuKeyColor), colorName(m.theme.NumericKeyColor)))
}

func layoutHints(hints []Hint, rows int, keyColor, jumpColor string) string {
	if len(hints) == 0 {
		return ""
	}
	cols := (len(hints) + rows - 1) / rows

	width := make([]int, cols)
	for i, h := range hints {
		if n := len(h.Key) + len(h.Label) + 3; n > width[i/rows] {
			width[i/rows] = n
		}
	}

	lines := make([]strings.Builder, min(rows, len(hints)))
	for i, h := range hints {
		color := keyColor
		if h.Jump {
			color = jumpColor
		}
		pad := width[i/rows] - len(h.Key) - len(h.Label) - 3
		fmt.Fprintf(&lines[i%rows], "[%s::b]<%s>[-:-:-] %s%s  ", color, h.Key, h.Label, strings.Repeat(" ", pad))
	}

	var b strings.Builder
	for i := range lines {
		b.WriteString(strings.TrimRight(lines[i].String(), " "))
		b.WriteByte('\n')
	}
	return b.String()
}
