package slug

import (
	"strings"
	"testing"
)

func TestMake(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Maria Silva", "maria-silva"},
		{"diacritics", "José Conceição", "jose-conceicao"},
		{"punctuation", "  Ana -- Maria!! (1950) ", "ana-maria-1950"},
		{"only symbols", "!!!", Fallback},
		{"empty", "", Fallback},
		{"already slug", "joao-2", "joao-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Make(tt.in); got != tt.want {
				t.Errorf("Make(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMake_Truncates(t *testing.T) {
	got := Make(strings.Repeat("ab ", 100))
	if len(got) > MaxLen {
		t.Fatalf("expected at most %d chars, got %d", MaxLen, len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("expected no trailing hyphen, got %q", got)
	}
}

func TestCandidate(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "maria"},
		{1, "maria"},
		{2, "maria-2"},
		{10, "maria-10"},
	}

	for _, tt := range tests {
		if got := Candidate("maria", tt.n); got != tt.want {
			t.Errorf("Candidate(maria, %d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestNextFree(t *testing.T) {
	tests := []struct {
		name  string
		taken []string
		want  string
		n     int
	}{
		{"nothing taken", nil, "maria", 1},
		{"base taken", []string{"maria"}, "maria-2", 2},
		{"sequence taken", []string{"maria", "maria-2", "maria-3"}, "maria-4", 4},
		{"gap reused", []string{"maria", "maria-3"}, "maria-2", 2},
		{"unrelated", []string{"maria-silva"}, "maria", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := NextFree("maria", tt.taken)
			if got != tt.want || n != tt.n {
				t.Errorf("NextFree = (%q, %d), want (%q, %d)", got, n, tt.want, tt.n)
			}
		})
	}
}
