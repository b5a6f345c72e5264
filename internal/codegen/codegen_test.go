package codegen

import (
	"strings"
	"testing"
)

func TestGenerateUsesConfiguredLengthAndAlphabet(t *testing.T) {
	g := New(6, DefaultAlphabet)
	code := g.Generate()
	if len(code) != 6 {
		t.Fatalf("expected length 6, got %d (%q)", len(code), code)
	}
	for _, c := range code {
		if !strings.ContainsRune(DefaultAlphabet, c) {
			t.Fatalf("code %q contains character %q outside the alphabet", code, c)
		}
	}
}

func TestGenerateExcludesAmbiguousGlyphs(t *testing.T) {
	for _, c := range []rune{'0', 'O', '1', 'I', 'L'} {
		if strings.ContainsRune(DefaultAlphabet, c) {
			t.Fatalf("default alphabet should exclude ambiguous glyph %q", c)
		}
	}
}

func TestNewDefaultsInvalidInputs(t *testing.T) {
	g := New(0, "")
	if g.Length != 6 {
		t.Fatalf("expected default length 6, got %d", g.Length)
	}
	if g.Alphabet != DefaultAlphabet {
		t.Fatalf("expected default alphabet, got %q", g.Alphabet)
	}
}

func TestUniqueRetriesOnCollision(t *testing.T) {
	g := New(6, DefaultAlphabet)
	seen := map[string]bool{}
	calls := 0
	exists := func(code string) bool {
		calls++
		if calls <= 3 {
			return true // force a few collisions before accepting
		}
		return seen[code]
	}
	code := g.Unique(exists)
	if code == "" {
		t.Fatalf("expected a non-empty code")
	}
	if calls < 4 {
		t.Fatalf("expected Unique to retry past the forced collisions, only called exists %d times", calls)
	}
}
