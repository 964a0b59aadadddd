package views

import (
	"fmt"
	"strings"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// SearchView provides message search functionality.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	onQuery func(query string)
	data    []api.SearchResult
	peer    func(conversationID string) string
}

// NewSearchView creates a new search view. peer maps a conversation id to a
// display name.
func NewSearchView(theme *ui.Theme, peer func(string) string) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	if peer == nil {
		peer = func(id string) string { return id }
	}
	return &SearchView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
		peer:    peer,
	}
}

// Title implements ui.Page.
func (sv *SearchView) Title() string { return "Search" }

// Hints implements ui.Page.
func (sv *SearchView) Hints() []ui.Hint {
	return []ui.Hint{
		{Key: "Enter", Label: "Search/Open"},
		{Key: "Tab", Label: "Results"},
		{Key: "Esc", Label: "Back"},
	}
}

// SetOnQuery sets the callback when a search query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(sv.input.GetText())
		}
	})
}

// Update replaces the result table. Matched terms, marked << >> by the
// store, are highlighted.
func (sv *SearchView) Update(results []api.SearchResult) {
	sv.data = results
	sv.results.Clear()

	for col, h := range []string{" PEER", " MATCH", " STATUS", " TIME"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
	if len(results) == 0 {
		sv.results.SetCell(1, 1, tview.NewTableCell(" no matches").SetSelectable(false).SetTextColor(sv.theme.TypingColor))
	}

	hl := hexColor(sv.theme.MenuKeyColor)
	for i, r := range results {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+display(sv.peer(r.Message.ConversationID))).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+highlight(oneLine(r.Snippet), hl)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+r.Message.Status).SetMaxWidth(10).SetTextColor(sv.theme.StatusSentColor))
		sv.results.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(r.Message.CreatedAt)).SetMaxWidth(12).SetTextColor(sv.theme.FgColor))
	}
	sv.results.SetTitle(fmt.Sprintf(" Results (%d) ", len(results)))
}

// highlight turns <<term>> markers into color tags and escapes the rest.
func highlight(snippet, color string) string {
	var b strings.Builder
	for {
		open := strings.Index(snippet, "<<")
		if open < 0 {
			break
		}
		end := strings.Index(snippet[open+2:], ">>")
		if end < 0 {
			break
		}
		b.WriteString(display(snippet[:open]))
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-]", color, display(snippet[open+2:open+2+end]))
		snippet = snippet[open+2+end+2:]
	}
	b.WriteString(display(snippet))
	return b.String()
}

// SelectedResult returns the conversation and message id of the selected
// result.
func (sv *SearchView) SelectedResult() (string, string) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		m := sv.data[idx].Message
		return m.ConversationID, m.ID
	}
	return "", ""
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
