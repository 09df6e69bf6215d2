package recall

import (
	"regexp"
	"strings"
)

// Frequencies reported by DetectRecurringPattern.
const (
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyRecurring = "recurring"
)

// RecurringPattern describes a recurring meeting found in a message.
type RecurringPattern struct {
	IsRecurring bool
	// Topic is the meeting phrase as the user wrote it, e.g.
	// "weekly 1:1 with Sam". It is what gets normalised into the registry.
	Topic string
	// MeetingType is Topic without the frequency word ("1:1 with Sam").
	MeetingType string
	Frequency   string
}

const phraseTail = `([^.,;!?\n]+)`

var recurringPatterns = []struct {
	re        *regexp.Regexp
	frequency string
	// phrase marks patterns whose second group is the rest of the meeting
	// phrase rather than a single keyword.
	phrase bool
}{
	{regexp.MustCompile(`(?i)\b(weekly|every week)\s+` + phraseTail), FrequencyWeekly, true},
	{regexp.MustCompile(`(?i)\b(monthly|every month)\s+` + phraseTail), FrequencyMonthly, true},
	{regexp.MustCompile(`(?i)\b(quarterly|every quarter)\s+` + phraseTail), FrequencyQuarterly, true},
	{regexp.MustCompile(`(?i)\b(1:1|1-1|one[- ]on[- ]one)(\s+with\s+[^.,;!?\n]+)?`), FrequencyRecurring, true},
	{regexp.MustCompile(`(?i)\b(stand-?up|stand up|daily)\b`), FrequencyDaily, false},
	{regexp.MustCompile(`(?i)\b(retrospective|retro)\b`), FrequencyMonthly, false},
}

// trailingTemporal strips scheduling words that follow a meeting phrase:
// "weekly sync tomorrow at 3pm" is about "weekly sync".
var trailingTemporal = regexp.MustCompile(`(?i)\s+(today|tonight|tomorrow|this (morning|afternoon|evening|week|month)|` +
	`next (week|month|quarter|(mon|tues|wednes|thurs|fri|satur|sun)day)|` +
	`on (mon|tues|wednes|thurs|fri|satur|sun)day|at \d{1,2}(:\d{2})?\s*(am|pm)?|in the (morning|afternoon|evening))$`)

// DetectRecurringPattern looks for a recurring meeting (weekly, monthly,
// quarterly, 1:1, standup, retro) in text. Patterns are tried in that
// order; the first match wins.
func DetectRecurringPattern(text string) RecurringPattern {
	for _, p := range recurringPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if !p.phrase {
			word := strings.ToLower(m[1])
			return RecurringPattern{IsRecurring: true, Topic: word, MeetingType: word, Frequency: p.frequency}
		}

		rest := trimTemporal(strings.TrimSpace(m[2]))
		topic := m[1]
		if rest != "" {
			topic += " " + rest
		}
		meetingType := strings.TrimPrefix(rest, "with ")
		if p.frequency == FrequencyRecurring {
			meetingType = topic
		}
		if meetingType == "" {
			meetingType = m[1]
		}
		return RecurringPattern{IsRecurring: true, Topic: topic, MeetingType: meetingType, Frequency: p.frequency}
	}
	return RecurringPattern{}
}

func trimTemporal(s string) string {
	for {
		trimmed := trailingTemporal.ReplaceAllString(s, "")
		if trimmed == s {
			return strings.TrimSpace(s)
		}
		s = trimmed
	}
}
