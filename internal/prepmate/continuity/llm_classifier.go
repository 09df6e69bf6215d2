package continuity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/prepmate/internal/prepmate/llm"
)

const classifierSystemPrompt = `You classify messages sent to a meeting preparation assistant.

Given the recent conversation and the user's current message, decide how the
current message relates to the conversation:
  - "follow_up": a related follow-up question ("what about X?", "tell me more")
  - "refinement": a request to MODIFY the previous answer ("make it shorter", "more formal")
  - "clarification": a request to EXPLAIN part of the previous answer ("explain the second point", "why?")
  - "new_topic": a new, unrelated request, e.g. preparing for a different meeting
  - "unclear": you cannot tell

Use the conversation history to tell follow-ups apart from new requests.

Respond ONLY with a JSON object in exactly this format:
{"kind": "follow_up" | "refinement" | "clarification" | "new_topic" | "unclear", "confidence": 0.0-1.0}`

const verdictSchema = `{
	"type": "object",
	"required": ["kind", "confidence"],
	"properties": {
		"kind": {"enum": ["follow_up", "refinement", "clarification", "new_topic", "unclear"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var compiledVerdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchema)

// LLMClassifier asks a chat model for a continuity verdict in JSON mode.
type LLMClassifier struct {
	provider llm.Provider
	model    string
}

// NewLLMClassifier returns a classifier backed by provider. An empty model
// uses the provider's default.
func NewLLMClassifier(provider llm.Provider, model string) *LLMClassifier {
	return &LLMClassifier{provider: provider, model: model}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, text string, recent []string) (Verdict, error) {
	user := text
	if len(recent) > 0 {
		user = fmt.Sprintf("Previous messages:\n%s\n\nCurrent message: %s", strings.Join(recent, "\n"), text)
	}

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifierSystemPrompt},
			{Role: llm.RoleUser, Content: user},
		},
		MaxTokens:   64,
		Temperature: llm.Temperature(0.3),
		JSON:        true,
	})
	if err != nil {
		return Unclear, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	return parseVerdict(resp.Content)
}

// parseVerdict validates raw model output against verdictSchema.
func parseVerdict(raw string) (Verdict, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Unclear, fmt.Errorf("%w: %w (raw content: %.200s)", ErrClassifierMalformed, err, raw)
	}
	if err := compiledVerdictSchema.Validate(doc); err != nil {
		return Unclear, fmt.Errorf("%w: %w", ErrClassifierMalformed, err)
	}

	var out struct {
		Kind       Kind    `json:"kind"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Unclear, fmt.Errorf("%w: %w", ErrClassifierMalformed, err)
	}
	return Verdict{Kind: out.Kind, Confidence: out.Confidence}, nil
}
