package scoring

import (
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity returns the Ratcliff-Obershelp ratio of a and b after removing
// all whitespace. Casing and punctuation are significant. The result is 0
// when either side is empty after normalisation.
func Similarity(a, b string) float64 {
	left := symbols(a)
	right := symbols(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	// No junk heuristic: long essays would otherwise drop frequent characters.
	matcher := difflib.NewMatcherWithJunk(left, right, false, nil)
	return matcher.Ratio()
}

// symbols splits s into one element per non-space rune.
func symbols(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			out = append(out, string(r))
		}
	}
	return out
}
