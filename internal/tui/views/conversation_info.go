package views

import (
	"fmt"
	"strings"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Title implements ui.Page.
func (ci *ConversationInfo) Title() string { return "Details" }

// Hints implements ui.Page.
func (ci *ConversationInfo) Hints() []ui.Hint {
	return []ui.Hint{
		{Key: "Esc", Label: "Back"},
		{Key: ":", Label: "Command"},
		{Key: "?", Label: "Help"},
	}
}

// Update renders conversation details along with its typing state and
// unresolved conflicts.
func (ci *ConversationInfo) Update(conv api.Conversation, typing []string, conflicts []api.Conflict) {
	ci.Clear()

	fg := hexColor(ci.theme.FgColor)
	ct := hexColor(ci.theme.CounterColor)

	lastActive := formatTimestamp(conv.LastActivityAt)
	if lastActive == "" {
		lastActive = "-"
	}
	typingText := "-"
	if len(typing) > 0 {
		typingText = strings.Join(typing, ", ")
	}

	text := fmt.Sprintf(
		"\n [%s::b]Peer:[-:-:-]         [%s]%s[-]\n"+
			" [%s::b]Peer ID:[-:-:-]      [%s]%s[-]\n"+
			" [%s::b]Conversation:[-:-:-] [%s]%s[-]\n"+
			" [%s::b]Unread:[-:-:-]       [%s]%d[-]\n"+
			" [%s::b]Last Active:[-:-:-]  [%s]%s[-]\n"+
			" [%s::b]Last Message:[-:-:-] [%s]%s[-]\n"+
			" [%s::b]Typing:[-:-:-]       [%s]%s[-]\n",
		fg, ct, tview.Escape(conv.PeerName),
		fg, ct, tview.Escape(conv.PeerID),
		fg, ct, tview.Escape(conv.ID),
		fg, ct, conv.UnreadCount,
		fg, ct, lastActive,
		fg, ct, display(conv.LastPreview),
		fg, ct, tview.Escape(typingText),
	)
	_, _ = fmt.Fprint(ci, text)

	if len(conflicts) > 0 {
		_, _ = fmt.Fprintf(ci, "\n [%s::b]Conflicts:[-:-:-]\n", hexColor(ci.theme.FlashWarnColor))
		for _, c := range conflicts {
			_, _ = fmt.Fprintf(ci, "  %s (%s)\n    local:  %s\n    server: %s\n",
				tview.Escape(c.MessageID), strings.Join(c.Fields, ","),
				display(c.Local.Content),
				display(c.Server.Content))
		}
	}

	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(peerName(conv))))
}

func hexColor(c interface{ Hex() int32 }) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
