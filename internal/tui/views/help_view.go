package views

import (
	"fmt"

	"github.com/emberapp/ember/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Title implements ui.Page.
func (hv *HelpView) Title() string { return "Help" }

// Hints implements ui.Page.
func (hv *HelpView) Hints() []ui.Hint {
	return []ui.Hint{
		{Key: "Esc", Label: "Back"},
	}
}

type helpSection struct {
	title string
	keys  [][2]string
}

var helpSections = []helpSection{
	{"Global Keys", [][2]string{
		{":", "Command mode"},
		{"/", "Filter mode"},
		{"?", "Help"},
		{"Esc", "Cancel / Go back"},
		{"q", "Quit / Back"},
		{"Ctrl-C", "Quit immediately"},
	}},
	{"Conversation List", [][2]string{
		{"Enter", "Open conversation"},
		{"1-9", "Jump to Nth conversation"},
		{"0", "Show all (clear filter)"},
		{"s", "Cycle sort mode"},
		{"c", "Show conflicts"},
	}},
	{"Message Thread", [][2]string{
		{"i", "Focus composer (typing is reported while you type)"},
		{"Enter", "Send message (in composer)"},
		{"r", "Retry the newest failed message"},
		{"y", "Sync this conversation"},
		{"d", "Show conversation details"},
	}},
	{"Conflicts", [][2]string{
		{"l", "Keep the local version"},
		{"S", "Keep the server version"},
	}},
	{"Commands (: mode)", [][2]string{
		{":search <query>", "Search messages"},
		{":chat <name>", "Open conversation by peer"},
		{":sync [force]", "Sync the open conversation"},
		{":sync-all", "Sync every conversation"},
		{":conflicts", "Show conflicts"},
		{":connect / :disconnect", "Open or drop the realtime link"},
		{":retry <message-id>", "Resend a failed message"},
		{":help / :h", "Show this help"},
		{":quit / :q", "Quit application"},
	}},
}

func (hv *HelpView) render() {
	kc := fmt.Sprintf("#%06x", hv.theme.MenuKeyColor.Hex())

	for _, sec := range helpSections {
		_, _ = fmt.Fprintf(hv, "\n  [::b]%s[-:-:-]\n\n", sec.title)
		for _, k := range sec.keys {
			_, _ = fmt.Fprintf(hv, "  [%s]%-24s[-:-:-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
}
