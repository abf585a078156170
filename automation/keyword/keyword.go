package keyword

import (
	"slices"
	"strings"
)

func TokenInSet(tok string, set []string) bool {
	return slices.Contains(set, tok)
}

// MatchesAny reports whether text matches any of the configured keywords or
// phrases. Matching is case-insensitive and punctuation-insensitive. When
// wholeWord is set, single-word keywords must match a whole token; otherwise
// substring containment over normalized text is enough. Multi-word phrases
// always match on normalized substring.
func MatchesAny(text string, keywords []string, wholeWord bool) bool {
	if text == "" || len(keywords) == 0 {
		return false
	}
	tokens := TokenizeText(text)
	normText := strings.Join(tokens, " ")

	for _, kw := range keywords {
		normKw := Normalize(kw)
		if normKw == "" {
			continue
		}
		if strings.Contains(normKw, " ") {
			if strings.Contains(normText, normKw) {
				return true
			}
			continue
		}
		if wholeWord {
			if TokenInSet(normKw, tokens) {
				return true
			}
		} else if strings.Contains(normText, normKw) {
			return true
		}
	}
	return false
}
