package ui

import "github.com/rivo/tview"

// Hint is one key binding shown in the header menu.
type Hint struct {
	Key   string
	Label string
	Jump  bool // 0-9 style shortcuts, drawn in their own color
}

// Page is a screen the shell can push onto its stack.
type Page interface {
	tview.Primitive
	Title() string
	Hints() []Hint
}
