package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color

	TypingColor        tcell.Color
	StatusPendingColor tcell.Color
	StatusSentColor    tcell.Color
	StatusReadColor    tcell.Color
	ConnectedColor     tcell.Color
	ReconnectingColor  tcell.Color
	OfflineColor       tcell.Color
}

// DefaultTheme returns the dark ember theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorOrangeRed,
		BorderFocusColor:  tcell.ColorOrange,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorOrange,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorOrangeRed,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorNavajoWhite,
		MenuKeyColor:      tcell.ColorOrange,
		NumericKeyColor:   tcell.ColorFuchsia,
		TitleColor:        tcell.ColorOrangeRed,
		CounterColor:      tcell.ColorPapayaWhip,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorRed,
		PromptBorderColor: tcell.ColorOrange,

		TypingColor:        tcell.ColorGray,
		StatusPendingColor: tcell.ColorGray,
		StatusSentColor:    tcell.ColorSilver,
		StatusReadColor:    tcell.ColorDeepSkyBlue,
		ConnectedColor:     tcell.ColorLimeGreen,
		ReconnectingColor:  tcell.ColorYellow,
		OfflineColor:       tcell.ColorOrangeRed,
	}
}

// ConnectionColor picks the indicator color for a realtime link state.
func (t *Theme) ConnectionColor(state string) tcell.Color {
	switch state {
	case "connected":
		return t.ConnectedColor
	case "connecting", "reconnecting":
		return t.ReconnectingColor
	default:
		return t.OfflineColor
	}
}

// colorName formats c as a tview color tag value.
func colorName(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
