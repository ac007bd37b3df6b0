package enrichment

import (
	"strings"
)

// TruncateAtSentence cuts text down to at most maxRunes, preferring a sentence
// boundary so the backend never sees a mid-sentence cut. When no boundary
// exists in the tail half of the budget, the cut falls back to the rune limit.
func TruncateAtSentence(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	window := runes[:maxRunes]

	// Scan backwards for the last sentence terminator. Korean prose ends
	// sentences with 다./요./함. etc., so '.' '!' '?' and newline cover it.
	cut := -1
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?', '\n', '。':
			cut = i + 1
		}
		if cut >= 0 {
			break
		}
	}

	// A boundary too close to the start would discard most of the budget.
	if cut < maxRunes/2 {
		return strings.TrimSpace(string(window))
	}

	return strings.TrimSpace(string(window[:cut]))
}
