package recall

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

func TestNormalizeTopic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Weekly 1:1 with Sam", "weekly 11 with sam"},
		{"weekly 1-1 with sam!", "weekly 11 with sam"},
		{"  Board   Meeting\t(Q3) ", "board meeting q3"},
		{"ＡＣＭＥ Ｋｉｃｋｏｆｆ", "acme kickoff"},
		{"Straße review", "strasse review"},
		{"¼ review", "14 review"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeTopic(tt.in); got != tt.want {
				t.Errorf("NormalizeTopic(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTopic_Idempotent(t *testing.T) {
	inputs := []string{
		"Weekly 1:1 with Sam", "¼ review", "été plan", "e.́x", "ﬁnance — sync",
		"Ǆungla", "İstanbul trip", "  ", "ÅNGSTRÖM", "café meeting",
	}
	for _, in := range inputs {
		once := NormalizeTopic(in)
		if twice := NormalizeTopic(once); twice != once {
			t.Errorf("NormalizeTopic not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("What should I ask Dr. Smith about my knee, and my KNEE again?")
	want := []string{"ask", "smith", "about", "knee", "again"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestDetectsPastReference(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"my follow-up with Dr. Smith", true},
		{"same as last time", true},
		{"seeing the dentist again", true},
		{"lunch with Maria", true},
		{"you remember the contractor?", true},
		{"lunch with friends", false},
		{"help me prep for an interview", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := DetectsPastReference(tt.text)
			if got.IsPastReference != tt.want {
				t.Errorf("DetectsPastReference(%q) = %v, want %v", tt.text, got.IsPastReference, tt.want)
			}
			if tt.want && len(got.Keywords) == 0 {
				t.Error("expected keywords for a past reference")
			}
		})
	}
}

func TestDetectRecurringPattern(t *testing.T) {
	tests := []struct {
		text      string
		recurring bool
		topic     string
		frequency string
	}{
		{"I have my weekly 1:1 with Sam tomorrow at 3pm", true, "weekly 1:1 with Sam", FrequencyWeekly},
		{"prep for the monthly budget review.", true, "monthly budget review", FrequencyMonthly},
		{"every quarter board update next week", true, "every quarter board update", FrequencyQuarterly},
		{"my 1:1 with Priya, any tips?", true, "1:1 with Priya", FrequencyRecurring},
		{"one-on-one with my manager", true, "one-on-one with my manager", FrequencyRecurring},
		{"Daily standup notes", true, "daily", FrequencyDaily},
		{"sprint retro on friday", true, "retro", FrequencyMonthly},
		{"dentist appointment", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := DetectRecurringPattern(tt.text)
			if got.IsRecurring != tt.recurring || got.Topic != tt.topic || got.Frequency != tt.frequency {
				t.Errorf("DetectRecurringPattern(%q) = %+v, want recurring=%v topic=%q frequency=%q",
					tt.text, got, tt.recurring, tt.topic, tt.frequency)
			}
		})
	}
}

func TestBuildContextString(t *testing.T) {
	day := time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC)
	topic := &store.RecurringTopic{RawTopicName: "weekly 1:1 with Sam", OccurrenceCount: 3, LastSummary: "Discussed promo timeline"}
	artifacts := []*store.Artifact{
		{ID: "a1", Topic: "weekly 1:1 with Sam", Content: strings.Repeat("x", 400), CreatedAt: day},
	}
	turns := []*store.Turn{
		{ID: "t1", Role: store.RoleUser, Text: "what should I ask Sam about the promo?"},
		{ID: "t2", Role: store.RoleBot, Text: "• Ask about timing"},
	}

	got := BuildContextString(artifacts, turns, topic)
	want := strings.Join([]string{
		"RECURRING MEETING INFO:",
		`This is a recurring meeting: "weekly 1:1 with Sam" (occurred 3 times)`,
		"Last time summary: Discussed promo timeline",
		"",
		"PAST RELATED CHECKLISTS:",
		"1. weekly 1:1 with Sam (2026-02-23)",
		strings.Repeat("x", 300) + "...",
		"",
		"RELATED PAST CONVERSATIONS:",
		"- User: what should I ask Sam about the promo?",
		"- Bot: • Ask about timing",
	}, "\n")
	if got != want {
		t.Errorf("BuildContextString =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildContextString_TopicSeenOnceIsOmitted(t *testing.T) {
	got := BuildContextString(nil, []*store.Turn{{Role: store.RoleUser, Text: "hi"}},
		&store.RecurringTopic{RawTopicName: "standup", OccurrenceCount: 1})
	if strings.Contains(got, "RECURRING") {
		t.Errorf("single occurrence should not be announced: %q", got)
	}
	if got != "RELATED PAST CONVERSATIONS:\n- User: hi" {
		t.Errorf("got %q", got)
	}
	if BuildContextString(nil, nil, nil) != "" {
		t.Error("expected empty string with nothing to show")
	}
}

func TestBuildContextString_CapsSections(t *testing.T) {
	var artifacts []*store.Artifact
	var turns []*store.Turn
	for range 6 {
		artifacts = append(artifacts, &store.Artifact{Topic: "t", Content: "c"})
		turns = append(turns, &store.Turn{Role: store.RoleUser, Text: "u"})
	}
	got := BuildContextString(artifacts, turns, nil)
	if n := strings.Count(got, "- User: u"); n != 5 {
		t.Errorf("turn lines = %d, want 5", n)
	}
	if strings.Contains(got, "4. t") {
		t.Error("more than 3 artifacts rendered")
	}
}

func TestTruncateContext(t *testing.T) {
	short := "User: hi\n\nAssistant: hello"
	if got := TruncateContext(short, 100); got != short {
		t.Errorf("short context changed: %q", got)
	}

	// 3 paragraphs of 20 chars separated by blank lines, budget of 8 tokens
	// (32 chars): the suffix starts mid-paragraph and is cut at the break.
	para := strings.Repeat("a", 20)
	long := para + "\n\n" + para + "\n\n" + strings.Repeat("b", 20)
	got := TruncateContext(long, 8)
	if got != strings.Repeat("b", 20) {
		t.Errorf("TruncateContext = %q", got)
	}
	if EstimateTokens(got) > 8 {
		t.Errorf("result exceeds budget: %d tokens", EstimateTokens(got))
	}
}

func TestEstimateTokens(t *testing.T) {
	for in, want := range map[string]int{"": 0, "abc": 1, "abcd": 1, "abcde": 2} {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}
