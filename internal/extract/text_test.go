package extract

import (
	"strings"
	"testing"
)

func TestTextPreservesStructuralBoundaries(t *testing.T) {
	markup := `<html><body>
		<h1>Welcome</h1>
		<p>First paragraph.</p>
		<p>Second   paragraph with   extra   spaces.</p>
		<ul><li>Alpha</li><li>Beta</li></ul>
	</body></html>`
	got := Text(markup)
	want := "Welcome\nFirst paragraph.\nSecond paragraph with extra spaces.\nAlpha\nBeta"
	if got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}

func TestTextDropsScriptsAndStyles(t *testing.T) {
	markup := `<html><head><style>.x{color:red}</style></head><body>
		<script>var hidden = "nope";</script>
		<noscript>enable js</noscript>
		<p>Visible</p>
	</body></html>`
	got := Text(markup)
	if got != "Visible" {
		t.Errorf("Text = %q, want %q", got, "Visible")
	}
}

func TestTextSanitizesPunctuationAndControls(t *testing.T) {
	markup := "<p>Costs — roughly “ten”…</p>"
	got := Text(markup)
	if strings.ContainsAny(got, "—“”…") {
		t.Errorf("typographic punctuation survived: %q", got)
	}
	if got != `Costs - roughly "ten"...` {
		t.Errorf("Text = %q", got)
	}
}

func TestTextEmptyInput(t *testing.T) {
	if got := Text("   "); got != "" {
		t.Errorf("Text(blank) = %q, want empty", got)
	}
	if got := Text("<html><body><div></div></body></html>"); got != "" {
		t.Errorf("Text(no text nodes) = %q, want empty", got)
	}
}
