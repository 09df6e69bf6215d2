package continuity

import (
	"strings"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// DefaultContextMessages is how many session turns BuildConversationContext
// renders by default.
const DefaultContextMessages = 10

// BuildConversationContext renders the last maxMessages turns as a
// transcript, oldest first:
//
//	User: ...
//
//	Assistant: ...
//
// turns must already be ordered oldest first.
func BuildConversationContext(turns []*store.Turn, maxMessages int) string {
	if maxMessages <= 0 {
		maxMessages = DefaultContextMessages
	}
	if len(turns) > maxMessages {
		turns = turns[len(turns)-maxMessages:]
	}

	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Assistant"
		if t.Role == store.RoleUser {
			speaker = "User"
		}
		parts = append(parts, speaker+": "+t.Text)
	}
	return strings.Join(parts, "\n\n")
}

// TurnTexts flattens turns into the "role: text" lines the classifier sees.
func TurnTexts(turns []*store.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, string(t.Role)+": "+t.Text)
	}
	return out
}

// InferPreferences adjusts stored preferences after a refinement request.
// It returns the updated preferences and whether anything changed.
//
// Asking for something shorter switches to short answers with at most 5
// bullets; asking for more detail while on short answers goes back to
// medium with 10. Casual and formal requests set the tone.
func InferPreferences(p store.Preferences, r RefinementType) (store.Preferences, bool) {
	changed := false

	switch {
	case r == RefineShorter && p.PreferredLength != store.LengthShort:
		p.PreferredLength = store.LengthShort
		p.MaxBullets = 5
		changed = true
	case r == RefineLonger && p.PreferredLength == store.LengthShort:
		p.PreferredLength = store.LengthMedium
		p.MaxBullets = 10
		changed = true
	}

	switch {
	case r == RefineCasual && p.PreferredTone != store.ToneCasual:
		p.PreferredTone = store.ToneCasual
		changed = true
	case r == RefineFormal && p.PreferredTone != store.ToneFormal:
		p.PreferredTone = store.ToneFormal
		changed = true
	}

	return p, changed
}
