package views

import "testing"

func TestDisplay(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "see you at 8", "see you at 8"},
		{"skin tone", "👍\U0001F3FB", "👍"},
		{"zwj sequence", "👩‍💻", "👩💻"},
		{"variation selector", "❤️", "❤"},
		{"color tag", "[red]hi", "[red[]hi"},
		{"control", "a\x07b", "ab"},
		{"newline kept", "a\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := display(tt.in); got != tt.want {
				t.Errorf("display(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("  running\nlate,\t sorry "); got != "running late, sorry" {
		t.Errorf("oneLine() = %q", got)
	}
}

func TestHighlight(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"one term", "grab <<coffee>> later", "grab [#ff0000::b]coffee[-:-:-] later"},
		{"two terms", "<<a>> and <<b>>", "[#ff0000::b]a[-:-:-] and [#ff0000::b]b[-:-:-]"},
		{"unclosed marker", "odd <<text", "odd <<text"},
		{"escaped tag", "<<[red]>>", "[#ff0000::b][red[][-:-:-]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := highlight(tt.in, "#ff0000"); got != tt.want {
				t.Errorf("highlight(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
