package recall

import (
	"regexp"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"i": true, "me": true, "my": true, "am": true, "is": true, "are": true,
	"was": true, "were": true, "the": true, "a": true, "an": true, "and": true,
	"or": true, "but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "would": true, "should": true, "will": true, "what": true,
	"when": true, "where": true, "who": true, "how": true, "why": true,
}

// ExtractKeywords returns the unique content words of text in order of
// first appearance: lowercased, punctuation split, stopwords and words of
// two letters or fewer dropped.
func ExtractKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if len([]rune(w)) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

var pastReferencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(follow.?up|followup)\b`),
	regexp.MustCompile(`(?i)\b(last time|previously|before|earlier|past)\b`),
	regexp.MustCompile(`(?i)\b(again|another|recurring|weekly|monthly)\b`),
	regexp.MustCompile(`(?i)\b(remember|recall|mentioned)\b`),
	// "Dr. Smith", "with John": the name itself must be capitalised.
	regexp.MustCompile(`(?i:\bdr\.|\bdoctor|\bwith)\s+[A-Z][a-z]+`),
}

// PastReference is the result of DetectsPastReference.
type PastReference struct {
	IsPastReference bool
	Keywords        []string
}

// DetectsPastReference reports whether text points back at an earlier
// conversation ("last time", "again", "my follow-up with Dr. Smith") and,
// if so, the keywords to search history with.
func DetectsPastReference(text string) PastReference {
	for _, p := range pastReferencePatterns {
		if p.MatchString(text) {
			return PastReference{IsPastReference: true, Keywords: ExtractKeywords(text)}
		}
	}
	return PastReference{}
}
