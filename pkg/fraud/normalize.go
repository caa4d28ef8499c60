package fraud

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// transcriptNormalizer folds unicode variants (fullwidth forms, ligatures)
// to their ASCII equivalents and strips diacritics, so lexicon matching sees
// the same text regardless of how the transcriber encoded it.
var transcriptNormalizer = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeTranscript lowercases a transcript and collapses unicode variant
// characters. On transform failure the lowercased original is returned; a
// partially normalized transcript is still scoreable.
func NormalizeTranscript(text string) string {
	lowered := strings.ToLower(text)
	out, _, err := transform.String(transcriptNormalizer, lowered)
	if err != nil {
		return lowered
	}
	return out
}
