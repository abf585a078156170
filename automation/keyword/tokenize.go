package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Splits free-form comment/DM text into lower-case tokens, with unicode
// normalization and accent folding, so keyword lists match the way people
// actually type ("Price?" matches "price").
func TokenizeText(text string) []string {
	// the transform chain is stateful and can not be shared across calls
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(normFunc, bare)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		folded = bare
	}
	return strings.Fields(folded)
}

// Normalize applies the same folding as TokenizeText but preserves word
// boundaries as single spaces, for substring matching of multi-word phrases.
func Normalize(text string) string {
	return strings.Join(TokenizeText(text), " ")
}
