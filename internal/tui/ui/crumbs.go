package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Crumbs shows the page trail on the left and the link state on the right.
type Crumbs struct {
	*tview.Flex
	trail *tview.TextView
	link  *tview.TextView
	theme *Theme
}

// NewCrumbs creates the breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	trail := tview.NewTextView().SetDynamicColors(true)
	trail.SetBackgroundColor(theme.BgColor)
	link := tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignRight)
	link.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		Flex:  tview.NewFlex().AddItem(trail, 0, 1, false).AddItem(link, 20, 0, false),
		trail: trail,
		link:  link,
		theme: theme,
	}
}

// SetTrail renders the page titles, the last one highlighted.
func (c *Crumbs) SetTrail(titles []string) {
	c.trail.Clear()
	parts := make([]string, len(titles))
	for i, t := range titles {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(titles)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts[i] = fmt.Sprintf("[%s:%s:%s] %s [-:-:-]", colorName(fg), colorName(bg), attr, tview.Escape(t))
	}
	_, _ = fmt.Fprint(c.trail, strings.Join(parts, " "))
}

// SetConnection shows the realtime link state as a colored dot.
func (c *Crumbs) SetConnection(state string) {
	c.link.Clear()
	_, _ = fmt.Fprintf(c.link, "[%s]●[-] %s ", colorName(c.theme.ConnectionColor(state)), state)
}
