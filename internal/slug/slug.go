// Package slug derives URL slugs from free text.
package slug

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Fallback is used when a name has no slug-able characters.
const Fallback = "anuncio"

// MaxLen bounds the base slug so suffixed candidates stay readable.
const MaxLen = 120

var (
	reNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	reHyphens  = regexp.MustCompile(`-+`)
)

// Make lower-cases s, strips diacritics, and collapses everything outside
// [a-z0-9] into single hyphens. An empty result becomes Fallback.
func Make(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}

	out := reNonAlnum.ReplaceAllString(b.String(), "-")
	out = reHyphens.ReplaceAllString(out, "-")
	out = strings.Trim(out, "-")

	if len(out) > MaxLen {
		out = strings.TrimRight(out[:MaxLen], "-")
	}
	if out == "" {
		return Fallback
	}
	return out
}

// Candidate returns the n-th slug to try for base: base itself for n <= 1,
// then base-2, base-3, and so on.
func Candidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}

// NextFree returns the first candidate for base that is not in taken, along
// with its ordinal.
func NextFree(base string, taken []string) (string, int) {
	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[t] = struct{}{}
	}
	for n := 1; ; n++ {
		c := Candidate(base, n)
		if _, ok := used[c]; !ok {
			return c, n
		}
	}
}
