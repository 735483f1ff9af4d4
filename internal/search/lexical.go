package search

import (
	"regexp"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

// tokenize returns the set of lowercased words in s.
func tokenize(s string) map[string]struct{} {
	words := wordRE.FindAllString(cases.Lower(language.Und).String(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// jaccard is |a ∩ b| / |a ∪ b|, zero when either set is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	over := 0
	for k := range a {
		if _, ok := b[k]; ok {
			over++
		}
	}
	return float64(over) / float64(len(a)+len(b)-over)
}
