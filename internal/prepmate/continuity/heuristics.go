package continuity

import (
	"regexp"
	"strings"
)

var followUpPatterns = []*regexp.Regexp{
	// refinement requests
	regexp.MustCompile(`^(can you|could you|please)\s+(make|change|update|modify|adjust)`),
	regexp.MustCompile(`\b(make it|change it|update it)\b`),
	regexp.MustCompile(`\b(shorter|longer|more detailed|less detailed|simpler|more formal|less formal)\b`),

	// clarification requests
	regexp.MustCompile(`\b(what about|how about|tell me more|explain|elaborate)\b`),
	regexp.MustCompile(`^(what|how|why|when|where)\b`),

	// anaphora
	regexp.MustCompile(`^(that|this|it|those|these)\b`),
	regexp.MustCompile(`\bthe (first|second|third|last|previous)( one)?\b`),

	// continuation conjunctions
	regexp.MustCompile(`^(also|and|but|however|additionally)\b`),

	// edits
	regexp.MustCompile(`\b(add|remove|include|exclude)\b.*\b(more|less|another)\b`),

	// references to something shared earlier
	regexp.MustCompile(`\b(the (link|file|article|doc|document|list) i (sent|shared|gave you))\b`),
	regexp.MustCompile(`\b(you (mentioned|said|suggested|listed))\b`),
}

// IsLikelyFollowUp is the cheap pre-filter run before any classifier call.
// It may fire on new requests and miss real follow-ups.
func IsLikelyFollowUp(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	for _, p := range followUpPatterns {
		if p.MatchString(normalized) {
			return true
		}
	}
	return false
}

var newTopicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(i have|i've got|meeting|appointment|interview|seeing|going to see)\b`),
	regexp.MustCompile(`\b(next week|tomorrow|today|upcoming)\b.*\b(meeting|appointment)\b`),
	regexp.MustCompile(`\bprepare (for|me)\b`),
}

// LooksLikeNewTopicRequest matches strong "I have a meeting" phrasing. A
// match overrides a continuation verdict from the classifier.
func LooksLikeNewTopicRequest(text string) bool {
	normalized := strings.ToLower(text)
	for _, p := range newTopicPatterns {
		if p.MatchString(normalized) {
			return true
		}
	}
	return false
}

// RefinementType names how the user wants the previous answer reshaped.
type RefinementType string

const (
	RefineNone    RefinementType = ""
	RefineShorter RefinementType = "shorter"
	RefineLonger  RefinementType = "longer"
	RefineFormal  RefinementType = "formal"
	RefineCasual  RefinementType = "casual"
	RefineSimpler RefinementType = "simpler"
)

var refinementPatterns = []struct {
	kind RefinementType
	re   *regexp.Regexp
}{
	{RefineShorter, regexp.MustCompile(`\b(shorter|brief|concise|condensed)\b`)},
	{RefineLonger, regexp.MustCompile(`\b(longer|more detailed|elaborate|extensive)\b`)},
	{RefineFormal, regexp.MustCompile(`\b(more formal|professional|business)\b`)},
	{RefineCasual, regexp.MustCompile(`\b(less formal|casual|friendly|relaxed)\b`)},
	{RefineSimpler, regexp.MustCompile(`\b(simpler|easier|basic)\b`)},
}

// GetRefinementType returns the first matching refinement sub-type, or
// RefineNone.
func GetRefinementType(text string) RefinementType {
	normalized := strings.ToLower(text)
	for _, p := range refinementPatterns {
		if p.re.MatchString(normalized) {
			return p.kind
		}
	}
	return RefineNone
}

// focusBuckets is checked in order; the first bucket with a keyword in the
// message wins.
var focusBuckets = []struct {
	area     string
	keywords []string
}{
	{"budget", []string{"budget", "cost", "costs", "price", "pricing", "money", "fee", "fees", "payment", "salary", "quote"}},
	{"timeline", []string{"timeline", "schedule", "deadline", "deadlines", "when", "how long", "duration", "dates"}},
	{"risk", []string{"risk", "risks", "concern", "concerns", "downside", "downsides", "red flag", "red flags", "worry"}},
	{"questions", []string{"question", "questions", "ask"}},
	{"preparation", []string{"bring", "documents", "paperwork", "prepare", "checklist"}},
	{"negotiation", []string{"negotiate", "negotiation", "leverage", "counteroffer", "offer"}},
	{"follow-up", []string{"follow up", "follow-up", "next steps", "afterwards", "after the meeting"}},
}

var wordSplitter = regexp.MustCompile(`[^a-z0-9\-]+`)

// ExtractFocusArea returns the area the user wants emphasised ("budget",
// "timeline", "risk", ...) or "" when no bucket matches.
func ExtractFocusArea(text string) string {
	normalized := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range wordSplitter.Split(normalized, -1) {
		if w != "" {
			words[w] = true
		}
	}
	for _, b := range focusBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(normalized, kw) {
					return b.area
				}
				continue
			}
			if words[kw] {
				return b.area
			}
		}
	}
	return ""
}

var closingPattern = regexp.MustCompile(
	`^(thanks|thank you|thx|ty|cheers|bye|goodbye|good bye|that's all|that is all|that's it|all good|got it|perfect|great)[\s!.,]*(thanks|thank you|that's all|bye)?[\s!.]*$`)

// IsConversationClosing reports short sign-off messages ("thanks!", "that's
// all", "bye") that end the current conversation.
func IsConversationClosing(text string) bool {
	return closingPattern.MatchString(strings.ToLower(strings.TrimSpace(text)))
}
