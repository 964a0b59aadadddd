package keys

import (
	"reflect"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func runeEvent(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "global") }})
	r.AddView("thread", "back", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "view") }})

	if !r.HandleEvent("thread", runeEvent('q')) {
		t.Fatal("expected thread binding to match")
	}
	if !r.HandleEvent("conversations", runeEvent('q')) {
		t.Fatal("expected global binding to match")
	}
	if r.HandleEvent("conversations", runeEvent('x')) {
		t.Fatal("unbound key must not match")
	}
	if want := []string{"view", "global"}; !reflect.DeepEqual(got, want) {
		t.Errorf("handlers = %v, want %v", got, want)
	}
}

func TestSpecialKeyMatch(t *testing.T) {
	a := &Action{Key: tcell.KeyEscape}
	if !a.Matches(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) {
		t.Error("escape should match")
	}
	if a.Matches(runeEvent('e')) {
		t.Error("rune must not match a special key action")
	}
}

func TestHintsOrderAndReplace(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("help", &Action{Description: "?:help", Visible: true})
	r.AddGlobal("hidden", &Action{Description: "x", Visible: false})
	r.AddView("thread", "retry", &Action{Description: "r:retry", Visible: true})
	r.AddView("thread", "retry", &Action{Description: "r:resend", Visible: true})

	got := r.Hints("thread")
	want := []string{"r:resend", "?:help"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Hints() = %v, want %v", got, want)
	}
}
