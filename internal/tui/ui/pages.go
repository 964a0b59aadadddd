package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages is a navigation stack over tview.Pages. A page appears at most once
// in the stack; pushing one that is already there brings it back to the top.
type Pages struct {
	*tview.Pages
	pages    map[string]Page
	stack    []string
	onChange func(top Page, titles []string)
}

// NewPages creates an empty stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages(), pages: make(map[string]Page)}
}

// Add registers a page under name without showing it.
func (p *Pages) Add(name string, page Page) {
	p.pages[name] = page
	p.AddPage(name, page, true, false)
}

// SetOnChange sets the callback run after every stack change.
func (p *Pages) SetOnChange(fn func(top Page, titles []string)) { p.onChange = fn }

// Push shows name on top of the stack.
func (p *Pages) Push(name string) {
	if i := slices.Index(p.stack, name); i >= 0 {
		p.stack = slices.Delete(p.stack, i, i+1)
	}
	p.stack = append(p.stack, name)
	p.show()
}

// Pop drops the top page and returns its name. The root page is never popped.
func (p *Pages) Pop() string {
	if len(p.stack) <= 1 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	p.show()
	return top
}

// PopToRoot drops everything above the root page and returns what was dropped,
// top first.
func (p *Pages) PopToRoot() []string {
	var dropped []string
	for len(p.stack) > 1 {
		dropped = append(dropped, p.stack[len(p.stack)-1])
		p.stack = p.stack[:len(p.stack)-1]
	}
	if dropped != nil {
		p.show()
	}
	return dropped
}

// Reset makes name the only page on the stack.
func (p *Pages) Reset(name string) {
	p.stack = []string{name}
	p.show()
}

// Current returns the top page name.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Depth returns the stack size.
func (p *Pages) Depth() int { return len(p.stack) }

// Contains reports whether name is anywhere on the stack.
func (p *Pages) Contains(name string) bool { return slices.Contains(p.stack, name) }

func (p *Pages) show() {
	top := p.Current()
	p.SwitchToPage(top)
	if p.onChange == nil {
		return
	}
	titles := make([]string, 0, len(p.stack))
	for _, name := range p.stack {
		if pg := p.pages[name]; pg != nil {
			titles = append(titles, pg.Title())
		}
	}
	p.onChange(p.pages[top], titles)
}
