// Package llm is a small chat-completion client shared by the continuity
// classifier and the reply generator.
//
// Only the subset of the OpenAI chat completions API that prepmate uses is
// modelled: plain text messages, an optional JSON-object response format and
// token usage. Any OpenAI-compatible endpoint works (Ollama, Azure, vLLM).
package llm

import (
	"context"
	"errors"
)

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrRateLimit is returned when the upstream API answers 429 after all
	// retries are exhausted.
	ErrRateLimit = errors.New("llm: rate limited by upstream")

	// ErrUnavailable wraps transport failures and 5xx answers.
	ErrUnavailable = errors.New("llm: upstream unavailable")

	// ErrEmptyResponse is returned when the API answers without any choice
	// or with empty content.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Message is a single chat message.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is the input to one completion call.
type CompletionRequest struct {
	// Model overrides the provider's default model.
	Model    string
	Messages []Message

	MaxTokens   int
	Temperature *float64

	// JSON asks the model for a single JSON object ("json_object" mode).
	JSON bool
}

// CompletionResponse is the model output.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage reports token consumption.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is implemented by every completion backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Temperature is a convenience for filling CompletionRequest.Temperature.
func Temperature(t float64) *float64 {
	return &t
}
