package commerce

import "testing"

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  Hand thrown mug  ", "Hand thrown mug"},
		{"paragraphs", "<p>Hand thrown.</p><p>Dishwasher &amp; microwave safe.</p>", "Hand thrown.\n\nDishwasher & microwave safe."},
		{"list", "<ul><li>Blue</li><li>Green</li></ul>", "Blue\nGreen"},
		{"script dropped", "<p>Hi</p><script>alert(1)</script>", "Hi"},
		{"break", "Line one<br>Line two", "Line one\nLine two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	if got := Summary("<p>short</p>", 20); got != "short" {
		t.Errorf("Summary = %q", got)
	}
	if got := Summary("one two three four five six", 14); got != "one two three…" {
		t.Errorf("Summary = %q", got)
	}
}
