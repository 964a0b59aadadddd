package views

import (
	"fmt"
	"strings"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ConflictList shows unresolved sync conflicts. Each row pairs the local and
// server version of one message.
type ConflictList struct {
	*tview.Table
	theme     *ui.Theme
	conflicts []api.Conflict
}

// NewConflictList creates the conflict table.
func NewConflictList(theme *ui.Theme) *ConflictList {
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
	table.SetTitle(" Conflicts ")
	table.SetTitleColor(theme.TitleColor)
	return &ConflictList{Table: table, theme: theme}
}

// Title implements ui.Page.
func (cl *ConflictList) Title() string { return "Conflicts" }

// Hints implements ui.Page.
func (cl *ConflictList) Hints() []ui.Hint {
	return []ui.Hint{
		{Key: "l", Label: "Keep local"},
		{Key: "S", Label: "Keep server"},
		{Key: "Esc", Label: "Back"},
	}
}

// Update refreshes the table.
func (cl *ConflictList) Update(conflicts []api.Conflict) {
	cl.conflicts = conflicts
	cl.Clear()

	headers := []string{" CONVERSATION", " FIELDS", " LOCAL", " SERVER", " DETECTED"}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
	for i, c := range conflicts {
		row := i + 1
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(c.ConversationID)).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+strings.Join(c.Fields, ",")).SetTextColor(cl.theme.FlashWarnColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+display(c.Local.Content)).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+display(c.Server.Content)).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 4, tview.NewTableCell(" "+formatTimestamp(c.DetectedAt)).SetTextColor(cl.theme.FgColor))
	}
	cl.SetTitle(fmt.Sprintf(" Conflicts (%d) ", len(conflicts)))
}

// Selected returns the message id of the selected conflict.
func (cl *ConflictList) Selected() string {
	row, _ := cl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(cl.conflicts) {
		return cl.conflicts[idx].MessageID
	}
	return ""
}
