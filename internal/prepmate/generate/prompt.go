package generate

import (
	"fmt"
	"strings"

	"github.com/bdobrica/prepmate/internal/prepmate/continuity"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

const checklistPrompt = "You generate concise, practical meeting preparation checklists. " +
	"Use short bullets, grouped by 2-3 sections with headings. " +
	"Focus on questions to ask and items to bring. Limit total to ~20 bullets."

const followUpStyle = `Important:
- Keep responses SHORT (3-5 bullets max for follow-ups)
- Use plain text with simple bullets (•) - NO markdown headers
- Sound natural and conversational, like texting a friend
- Reference the previous conversation directly when relevant
- If the question isn't related to the previous context, acknowledge that and help anyway`

// ChecklistPrompt is the system prompt for a new topic: the base checklist
// instructions, any recalled history, then the user's preferences.
func ChecklistPrompt(pastContext string, prefs store.Preferences) string {
	var b strings.Builder
	b.WriteString(checklistPrompt)
	if pastContext != "" {
		b.WriteString("\n\nRelevant history with this user:\n")
		b.WriteString(pastContext)
		b.WriteString("\n\nUse this history to avoid repeating yourself and to follow up on open points.")
	}
	b.WriteString(preferenceNotes(prefs))
	return b.String()
}

// FollowUpPrompt is the system prompt for a continuation, shaped by the
// decision kind, refinement type and focus area.
func FollowUpPrompt(d continuity.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You're a helpful friend in an ongoing conversation about meeting preparation.

Previous conversation:
%s

The user is now asking a follow-up question. Use the conversation history to provide a relevant, contextual response.`, d.ContextText)

	focus := d.FocusArea
	switch d.Kind {
	case continuity.KindRefinement:
		b.WriteString("\n\n")
		b.WriteString(refinementInstruction(d.Refinement))
		if focus != "" {
			fmt.Fprintf(&b, "\n\nIMPORTANT: The user specifically wants to focus more on %q. Adjust the response to emphasize this area with more questions and details about %s.", focus, focus)
		}
	case continuity.KindClarification:
		b.WriteString("\n\nThe user wants clarification or more information about a specific point from the previous response. Focus on that specific aspect.")
		if focus != "" {
			fmt.Fprintf(&b, "\n\nSpecifically, they're asking about %q. Provide detailed information about %s.", focus, focus)
		}
	default:
		b.WriteString("\n\nThe user is asking a related follow-up question. Build on the previous conversation naturally.")
		if focus != "" {
			fmt.Fprintf(&b, "\n\nThey're particularly interested in %q. Make sure to address this in your response.", focus)
		}
	}

	b.WriteString("\n\n")
	b.WriteString(followUpStyle)
	return b.String()
}

func refinementInstruction(r continuity.RefinementType) string {
	switch r {
	case continuity.RefineShorter:
		return "The user wants a SHORTER version. Condense the previous response to 3-5 bullets max, keeping only the most important points."
	case continuity.RefineLonger:
		return "The user wants MORE DETAIL. Expand on the previous response with additional context, examples, or questions."
	case continuity.RefineFormal:
		return "The user wants a MORE FORMAL tone. Regenerate in a professional, business-appropriate style."
	case continuity.RefineCasual:
		return "The user wants a MORE CASUAL tone. Regenerate in a friendly, conversational style."
	case continuity.RefineSimpler:
		return "The user wants it SIMPLER. Use plain language and break down complex concepts."
	default:
		return "The user wants to modify the previous response. Make the requested changes while keeping the same topic."
	}
}

func preferenceNotes(p store.Preferences) string {
	var b strings.Builder
	switch p.PreferredLength {
	case store.LengthShort:
		fmt.Fprintf(&b, "\n\nIMPORTANT: User prefers SHORT checklists. Keep to %d bullets maximum.", p.MaxBullets)
	case store.LengthLong:
		b.WriteString("\n\nIMPORTANT: User prefers DETAILED checklists. Provide comprehensive information with examples.")
	}
	switch p.PreferredTone {
	case store.ToneFormal:
		b.WriteString("\n\nTONE: Use professional, business-appropriate language.")
	case store.ToneCasual:
		b.WriteString("\n\nTONE: Use friendly, conversational language like talking to a friend.")
	}
	return b.String()
}
