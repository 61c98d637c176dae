// Package retrieval implements hybrid keyword/vector chunk retrieval.
package retrieval

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase tokens of at least two runes.
// Runs of letters and digits form tokens, so non-Latin scripts survive
// intact; punctuation is dropped.
func Tokenize(text string) []string {
	var tokens []string
	var current []rune

	flush := func() {
		if len(current) >= 2 {
			tokens = append(tokens, string(current))
		}
		current = current[:0]
	}

	for _, r := range strings.ToLower(text) {
		// Marks stay inside a run so scripts that compose characters
		// from base letters plus combining marks are not split apart.
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			current = append(current, r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// LexicalScore computes keyword-overlap similarity between a query and a
// piece of content. An exact token match counts 1.0, a partial match
// (one token contained in the other) counts 0.5. The sum is normalized by
// the query token count and clamped to [0,1].
func LexicalScore(query, content string) float64 {
	queryTokens := Tokenize(query)
	contentTokens := Tokenize(content)

	exact := make(map[string]struct{}, len(contentTokens))
	for _, t := range contentTokens {
		exact[t] = struct{}{}
	}

	var raw float64
	for _, qt := range queryTokens {
		if _, ok := exact[qt]; ok {
			raw += 1.0
			continue
		}
		for ct := range exact {
			if strings.Contains(ct, qt) || strings.Contains(qt, ct) {
				raw += 0.5
				break
			}
		}
	}

	denom := float64(len(queryTokens))
	if denom < 1 {
		denom = 1
	}
	return clamp01(raw / denom)
}

// KeywordBonus counts query tokens appearing literally in the content and
// converts them into a capped additive bonus for hybrid scoring. This is
// deliberately not the normalized lexical score.
func KeywordBonus(query, content string) float64 {
	lowered := strings.ToLower(content)
	matches := 0
	for _, token := range Tokenize(query) {
		if strings.Contains(lowered, token) {
			matches++
		}
	}
	bonus := 0.1 * float64(matches)
	if bonus > 0.3 {
		bonus = 0.3
	}
	return bonus
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
