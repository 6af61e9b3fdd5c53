package ascii

import (
	"strings"
	"testing"
)

func TestSanitizeReplacements(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"arrow", "a → b", "a -> b"},
		{"left arrow", "a ← b", "a <- b"},
		{"double arrow", "x ⇒ y", "x => y"},
		{"less equal", "n ≤ 3", "n <= 3"},
		{"not equal", "a ≠ b", "a != b"},
		{"check mark", "✅ done", "[PASS] done"},
		{"cross mark", "❌ broken", "[FAIL] broken"},
		{"warn with selector", "⚠️ careful", "[WARN] careful"},
		{"warn bare", "⚠ careful", "[WARN] careful"},
		{"check", "✓ ok", "OK ok"},
		{"unmapped high rune", "café", "caf?"},
		{"plain ascii untouched", "hello world", "hello world"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"a → b ✅ café",
		"\U0001F680 launch \U0001F4CA",
		"plain text",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSanitizeOutputIsASCII(t *testing.T) {
	out := Sanitize("mixed → content \U0001F389 café 世界")
	for i, r := range out {
		if r > 127 {
			t.Fatalf("non-ASCII rune %q at index %d in sanitized output", r, i)
		}
	}
}

func TestValidate(t *testing.T) {
	ok, violations := Validate("clean ascii text")
	if !ok || len(violations) != 0 {
		t.Errorf("expected clean text to validate, got %d violations", len(violations))
	}

	ok, violations = Validate("line one\nbad → here")
	if ok {
		t.Error("expected validation failure")
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	v := violations[0]
	if v.Line != 2 {
		t.Errorf("expected line 2, got %d", v.Line)
	}
	if v.Column != 5 {
		t.Errorf("expected column 5, got %d", v.Column)
	}
	if v.Code != "U+2192" {
		t.Errorf("expected code U+2192, got %s", v.Code)
	}
	if v.Suggestion != "->" {
		t.Errorf("expected suggestion ->, got %q", v.Suggestion)
	}
}

func TestEnforcePrompt(t *testing.T) {
	out := EnforcePrompt("Write a function.")
	if !strings.HasPrefix(out, "Write a function.") {
		t.Error("prompt prefix lost")
	}
	if !strings.Contains(out, "ASCII-ONLY REQUIREMENT") {
		t.Error("enforcement block missing")
	}
}
