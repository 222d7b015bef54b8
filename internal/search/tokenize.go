package search

import (
	"strings"
	"unicode"
)

// DefaultMinTokenLength drops single-character noise such as `T` or `a`.
const DefaultMinTokenLength = 2

// Tokenize case-folds text and splits it on non-alphanumeric boundaries.
// Mixed-case words also contribute their camel-case humps, so "HashMap"
// yields "hashmap", "hash" and "map". Tokens shorter than minLen runes are
// dropped and each token appears once, in first-seen order.
func Tokenize(text string, minLen int) []string {
	if minLen < 1 {
		minLen = 1
	}
	var out []string
	seen := make(map[string]bool)
	emit := func(tok string) {
		if len([]rune(tok)) < minLen || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		emit(strings.ToLower(word))
		humps := camelHumps(word)
		if len(humps) < 2 {
			continue
		}
		for _, h := range humps {
			emit(strings.ToLower(h))
		}
	}
	return out
}

// camelHumps splits "parseHTTPResponse" into "parse", "HTTP", "Response".
func camelHumps(word string) []string {
	runes := []rune(word)
	var humps []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)
		if !boundary && unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if boundary {
			humps = append(humps, string(runes[start:i]))
			start = i
		}
	}
	return append(humps, string(runes[start:]))
}
