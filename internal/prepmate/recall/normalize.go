package recall

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// maxNormalizePasses bounds NormalizeTopic's fixed-point loop. Compatibility
// decomposition can expose new punctuation ("¼" becomes "1⁄4"), so a single
// pass is not always a fixed point.
const maxNormalizePasses = 4

// NormalizeTopic is the dedup key for recurring topics: NFKC-normalised,
// case-folded, punctuation and symbols removed, whitespace collapsed to
// single spaces. It is idempotent, so "Weekly 1:1 with Sam" and
// "weekly 1-1 with sam!" both become "weekly 11 with sam".
func NormalizeTopic(s string) string {
	for range maxNormalizePasses {
		next := normalizeOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func normalizeOnce(s string) string {
	// cases.Caser is stateful; one per call.
	s = cases.Fold().String(norm.NFKC.String(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}
