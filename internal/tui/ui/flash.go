package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// Level is the severity of a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

var noticeTTL = [...]time.Duration{
	LevelInfo:  5 * time.Second,
	LevelWarn:  8 * time.Second,
	LevelError: 10 * time.Second,
}

// Notice is one line for the flash bar. Repeats counts identical notices
// posted while the previous one was still showing.
type Notice struct {
	Text    string
	Level   Level
	Repeats int
	Expires time.Time
}

// Notices holds the notice currently on screen. It is safe for use from
// worker goroutines; the UI learns about changes through Changed.
type Notices struct {
	mu      sync.Mutex
	current Notice
	changed chan struct{}
	now     func() time.Time
}

// NewNotices creates an empty notice holder.
func NewNotices() *Notices {
	return &Notices{changed: make(chan struct{}, 1), now: time.Now}
}

// Info posts an informational notice.
func (n *Notices) Info(text string) { n.post(text, LevelInfo) }

// Warn posts a warning.
func (n *Notices) Warn(text string) { n.post(text, LevelWarn) }

// Err posts err as an error notice.
func (n *Notices) Err(err error) { n.post(err.Error(), LevelError) }

func (n *Notices) post(text string, level Level) {
	now := n.now()
	n.mu.Lock()
	if n.current.Text == text && n.current.Level == level && now.Before(n.current.Expires) {
		n.current.Repeats++
	} else {
		n.current = Notice{Text: text, Level: level}
	}
	n.current.Expires = now.Add(noticeTTL[level])
	n.mu.Unlock()

	select {
	case n.changed <- struct{}{}:
	default:
	}
}

// Current returns the live notice, if any.
func (n *Notices) Current() (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current.Text == "" || !n.now().Before(n.current.Expires) {
		return Notice{}, false
	}
	return n.current, true
}

// Changed fires after a post. Several posts may share one signal.
func (n *Notices) Changed() <-chan struct{} {
	return n.changed
}

// FlashBar renders the current notice at the bottom of the screen.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates the flash bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Show draws n, or clears the bar when ok is false.
func (fb *FlashBar) Show(n Notice, ok bool) {
	fb.Clear()
	if !ok {
		return
	}
	color := fb.theme.FlashInfoColor
	switch n.Level {
	case LevelWarn:
		color = fb.theme.FlashWarnColor
	case LevelError:
		color = fb.theme.FlashErrColor
	}
	text := tview.Escape(n.Text)
	if n.Repeats > 0 {
		text = fmt.Sprintf("%s (x%d)", text, n.Repeats+1)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", colorName(color), text)
}
