package helpers

import "testing"

func TestSanitizeHTMLStrict(t *testing.T) {
	input := `<p>Markets &amp; <b>rates</b><script>alert('x')</script></p>
	  rally`
	got := SanitizeHTMLStrict(input)
	want := "Markets & rates rally"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	got := Truncate("The central bank raised rates again today", 20)
	if got != "The central bank..." {
		t.Fatalf("unexpected %q", got)
	}
}
