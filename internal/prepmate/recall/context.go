package recall

import (
	"fmt"
	"strings"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// Context budget defaults.
const (
	DefaultMaxContextTokens = 2000

	maxContextArtifacts = 3
	maxContextTurns     = 5
	artifactExcerpt     = 300 // runes per artifact
	turnExcerpt         = 100 // runes per turn

	charsPerToken = 4
)

// BuildContextString renders recall results for the generator. The
// recurring-topic note comes first and only when the topic has been seen
// more than once, then up to 3 artifacts and up to 5 turns, each cut to a
// fixed excerpt. The output is deterministic for a given input.
func BuildContextString(artifacts []*store.Artifact, turns []*store.Turn, topic *store.RecurringTopic) string {
	var parts []string

	if topic != nil && topic.OccurrenceCount > 1 {
		parts = append(parts, "RECURRING MEETING INFO:")
		parts = append(parts, fmt.Sprintf("This is a recurring meeting: %q (occurred %d times)", topic.RawTopicName, topic.OccurrenceCount))
		if topic.LastSummary != "" {
			parts = append(parts, "Last time summary: "+topic.LastSummary)
		}
	}

	if len(artifacts) > 0 {
		parts = append(parts, "\nPAST RELATED CHECKLISTS:")
		for i, a := range artifacts[:min(len(artifacts), maxContextArtifacts)] {
			parts = append(parts, fmt.Sprintf("%d. %s (%s)", i+1, a.Topic, a.CreatedAt.Format("2006-01-02")))
			parts = append(parts, excerpt(a.Content, artifactExcerpt))
		}
	}

	if len(turns) > 0 {
		parts = append(parts, "\nRELATED PAST CONVERSATIONS:")
		for _, t := range turns[:min(len(turns), maxContextTurns)] {
			speaker := "Bot"
			if t.Role == store.RoleUser {
				speaker = "User"
			}
			parts = append(parts, fmt.Sprintf("- %s: %s", speaker, excerpt(t.Text, turnExcerpt)))
		}
	}

	return strings.TrimPrefix(strings.Join(parts, "\n"), "\n")
}

// EstimateTokens approximates the token count of text at ~4 characters per
// token.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + charsPerToken - 1) / charsPerToken
}

// TruncateContext keeps the most recent part of text that fits in
// maxTokens. When it has to cut, it drops everything before the first
// paragraph break of the kept suffix so the result starts on a whole
// message. maxTokens <= 0 means DefaultMaxContextTokens.
func TruncateContext(text string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	kept := string(runes[len(runes)-maxTokens*charsPerToken:])
	if i := strings.Index(kept, "\n\n"); i > 0 {
		return kept[i+2:]
	}
	return kept
}

func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
