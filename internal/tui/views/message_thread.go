package views

import (
	"fmt"
	"strings"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// MessageThread displays messages and a composer for a single conversation.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	composer *tview.InputField
	self     string
	peerName string
	convID   string
	onSend   func(text string)
	onType   func(text string)
}

// NewMessageThread creates a new message thread view. self is the local
// user id, used to tell outgoing messages apart.
func NewMessageThread(theme *ui.Theme, self string) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().
		SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)
	typing.SetTextColor(theme.TypingColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
		self:     self,
	}

	composer.SetChangedFunc(func(text string) {
		if mt.onType != nil {
			mt.onType(text)
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := strings.TrimSpace(composer.GetText())
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Title implements ui.Page.
func (mt *MessageThread) Title() string {
	if mt.peerName != "" {
		return mt.peerName
	}
	return "Messages"
}

// Reset clears the composer and typing line when the thread is left.
func (mt *MessageThread) Reset() {
	mt.composer.SetText("")
	mt.typing.Clear()
}

// Hints implements ui.Page.
func (mt *MessageThread) Hints() []ui.Hint {
	return []ui.Hint{
		{Key: "i", Label: "Compose"},
		{Key: "r", Label: "Retry failed"},
		{Key: "y", Label: "Sync"},
		{Key: "d", Label: "Details"},
		{Key: "Esc", Label: "Back"},
		{Key: ":", Label: "Command"},
		{Key: "?", Label: "Help"},
	}
}

// SetConversation sets the conversation shown by the thread.
func (mt *MessageThread) SetConversation(conv api.Conversation) {
	mt.convID = conv.ID
	mt.peerName = peerName(conv)
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(mt.peerName)))
}

// SetSelf sets the local user id.
func (mt *MessageThread) SetSelf(userID string) {
	mt.self = userID
}

// ConversationID returns the id of the shown conversation.
func (mt *MessageThread) ConversationID() string {
	return mt.convID
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnType sets the callback fired on every composer edit.
func (mt *MessageThread) SetOnType(fn func(text string)) {
	mt.onType = fn
}

// Update refreshes the message view. Messages arrive newest first.
func (mt *MessageThread) Update(msgs []api.Message) {
	mt.messages.Clear()

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		sender := mt.peerName
		if sender == "" {
			sender = m.SenderID
		}
		ticks := ""
		if m.SenderID == mt.self {
			sender = "You"
			ticks = " " + mt.statusMark(m.Status)
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			display(sender), formatTimestamp(m.CreatedAt), ticks,
			display(m.Content))
		_, _ = fmt.Fprint(mt.messages, line)
	}

	mt.messages.ScrollToEnd()
}

// SetTyping shows who is typing, or clears the line.
func (mt *MessageThread) SetTyping(users []string) {
	mt.typing.Clear()
	if len(users) == 0 {
		return
	}
	who := mt.peerName
	if len(users) > 1 || who == "" {
		who = strings.Join(users, ", ")
	}
	_, _ = fmt.Fprintf(mt.typing, " %s is typing...", tview.Escape(who))
}

// statusMark renders the delivery state of an outgoing message.
func (mt *MessageThread) statusMark(status string) string {
	var glyph string
	var color tcell.Color
	switch status {
	case "pending":
		glyph, color = "…", mt.theme.StatusPendingColor
	case "sent":
		glyph, color = "✓", mt.theme.StatusSentColor
	case "delivered":
		glyph, color = "✓✓", mt.theme.StatusSentColor
	case "read":
		glyph, color = "✓✓", mt.theme.StatusReadColor
	case "failed":
		glyph, color = "! failed, r to retry", mt.theme.FlashErrColor
	default:
		return ""
	}
	return fmt.Sprintf("[#%06x]%s[-]", color.Hex(), glyph)
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
