package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

var logoArt = [...]string{
	"╔═╗╔╦╗╔╗ ╔═╗╦═╗",
	"║╣ ║║║╠╩╗║╣ ╠╦╝",
	"╚═╝╩ ╩╚═╝╚═╝╩╚═",
}

// Logo is the header mark. It glows in the connection color so the link
// state is visible from across the room.
type Logo struct {
	*tview.TextView
	theme *Theme
	state string
}

// NewLogo creates the logo in the offline color.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{TextView: tv, theme: theme}
	l.SetState("")
	return l
}

// SetState recolors the logo for a realtime link state; an empty state uses
// the theme's title color.
func (l *Logo) SetState(state string) {
	if state == l.state && l.GetText(false) != "" {
		return
	}
	l.state = state
	color := colorName(l.theme.TitleColor)
	if state != "" {
		color = colorName(l.theme.ConnectionColor(state))
	}

	l.Clear()
	for _, line := range logoArt {
		_, _ = fmt.Fprintf(l, "[%s::b]%s[-:-:-]\n", color, line)
	}
	_, _ = fmt.Fprintf(l, "[%s]realtime monitor[-:-:-]", colorName(l.theme.FgColor))
}
