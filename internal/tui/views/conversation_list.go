package views

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// SortMode orders the conversation list.
type SortMode int

const (
	SortRecent SortMode = iota
	SortUnread
	SortName
)

func (s SortMode) String() string {
	switch s {
	case SortUnread:
		return "unread"
	case SortName:
		return "name"
	default:
		return "recent"
	}
}

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []api.Conversation
	visible []api.Conversation
	typing  func(conversationID string) []string
	filter  string
	sort    SortMode
}

// NewConversationList creates a new conversation list table. typing reports
// who is typing in a conversation and may be nil.
func NewConversationList(theme *ui.Theme, typing func(string) []string) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	if typing == nil {
		typing = func(string) []string { return nil }
	}
	return &ConversationList{Table: table, theme: theme, typing: typing}
}

// Title implements ui.Page.
func (cl *ConversationList) Title() string { return "Conversations" }

// Hints implements ui.Page.
func (cl *ConversationList) Hints() []ui.Hint {
	return []ui.Hint{
		{Key: "Enter", Label: "Open"},
		{Key: "/", Label: "Filter"},
		{Key: ":", Label: "Command"},
		{Key: "s", Label: "Sort"},
		{Key: "c", Label: "Conflicts"},
		{Key: "?", Label: "Help"},
		{Key: "q", Label: "Quit"},
		{Key: "0-9", Label: "Jump", Jump: true},
	}
}

// Update refreshes the list with new data.
func (cl *ConversationList) Update(convs []api.Conversation) {
	cl.convs = convs
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

// CycleSort switches to the next sort mode and returns it.
func (cl *ConversationList) CycleSort() SortMode {
	cl.sort = (cl.sort + 1) % 3
	cl.render()
	return cl.sort
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" PEER", 1},
		{" LAST MESSAGE", 2},
		{" UNREAD", 0},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	cl.visible = filterConversations(cl.convs, cl.filter)
	sortConversations(cl.visible, cl.sort)

	for i, conv := range cl.visible {
		row := i + 1
		preview := oneLine(conv.LastPreview)
		previewColor := cl.theme.FgColor
		if users := cl.typing(conv.ID); len(users) > 0 {
			preview = "typing..."
			previewColor = cl.theme.TypingColor
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", conv.UnreadCount)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+display(peerName(conv))).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+display(preview)).SetExpansion(2).SetTextColor(previewColor))
		cl.SetCell(row, 2, tview.NewTableCell(unread).SetTextColor(cl.theme.CounterColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(formatTimestamp(conv.LastActivityAt)).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) [%s] filter: %s ", len(cl.visible), len(cl.convs), cl.sort, cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) [%s] ", len(cl.convs), cl.sort))
	}
}

// SelectedConversation returns the id of the selected conversation.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the id of the Nth visible conversation
// (1-based).
func (cl *ConversationList) ConversationByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

func peerName(c api.Conversation) string {
	if c.PeerName != "" {
		return c.PeerName
	}
	return c.PeerID
}

func filterConversations(convs []api.Conversation, filter string) []api.Conversation {
	out := make([]api.Conversation, 0, len(convs))
	for _, c := range convs {
		if filter == "" || containsFold(peerName(c), filter) || containsFold(c.LastPreview, filter) {
			out = append(out, c)
		}
	}
	return out
}

func sortConversations(convs []api.Conversation, mode SortMode) {
	slices.SortStableFunc(convs, func(a, b api.Conversation) int {
		switch mode {
		case SortUnread:
			if c := cmp.Compare(b.UnreadCount, a.UnreadCount); c != 0 {
				return c
			}
		case SortName:
			return cmp.Compare(strings.ToLower(peerName(a)), strings.ToLower(peerName(b)))
		}
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
