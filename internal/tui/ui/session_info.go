package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session       string
	UserID        string
	Connection    string
	Queued        int
	Conversations int
	Conflicts     int
	Unconfirmed   int
	LastSync      time.Time
	Uptime        time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := colorName(si.theme.FgColor)
	ct := colorName(si.theme.CounterColor)
	conn := colorName(si.theme.ConnectionColor(data.Connection))
	conflicts := ct
	if data.Conflicts > 0 {
		conflicts = colorName(si.theme.FlashWarnColor)
	}

	lastSync := "-"
	if !data.LastSync.IsZero() {
		lastSync = data.LastSync.Local().Format("15:04:05")
	}

	text := fmt.Sprintf(
		"[%s::b]Session:[-:-:-]   [%s]%s[-] [%s](%s)[-]\n"+
			"[%s::b]Link:[-:-:-]      [%s]%s[-] [%s]queued %d[-]\n"+
			"[%s::b]Convs:[-:-:-]     [%s]%d[-]\n"+
			"[%s::b]Conflicts:[-:-:-] [%s]%d[-]  [%s::b]Unacked:[-:-:-] [%s]%d[-]\n"+
			"[%s::b]Last sync:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Uptime:[-:-:-]    [%s]%s[-]",
		fg, ct, data.Session, fg, data.UserID,
		fg, conn, data.Connection, ct, data.Queued,
		fg, ct, data.Conversations,
		fg, conflicts, data.Conflicts, fg, ct, data.Unconfirmed,
		fg, ct, lastSync,
		fg, ct, formatDuration(data.Uptime),
	)

	_, _ = fmt.Fprint(si, text)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
