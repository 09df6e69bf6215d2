// Package generate produces the reply for a governed turn. It is the
// downstream collaborator of the governance layer: it receives the routing
// decision and context bundle and reports what the reply cost.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/prepmate/internal/prepmate/continuity"
	"github.com/bdobrica/prepmate/internal/prepmate/llm"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
	"github.com/bdobrica/prepmate/internal/prepmate/usage"
)

// Request is everything needed to answer one user message.
type Request struct {
	Text     string
	Decision continuity.Decision
	// PastContext is recalled history for a new topic, already truncated.
	PastContext string
	Preferences store.Preferences
}

// Reply is the generated answer and its estimated cost in ledger units.
type Reply struct {
	Text string
	Cost float64
}

// Generator answers a governed turn.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// Config selects the models used by LLMGenerator.
type Config struct {
	// ChecklistModel answers new topics. Empty means the provider default.
	ChecklistModel string
	// FollowUpModel answers continuations. Empty means the provider default.
	FollowUpModel string
}

// LLMGenerator generates replies with a chat model.
type LLMGenerator struct {
	provider llm.Provider
	cfg      Config
}

// NewLLM returns a Generator backed by provider.
func NewLLM(provider llm.Provider, cfg Config) *LLMGenerator {
	return &LLMGenerator{provider: provider, cfg: cfg}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	system := ChecklistPrompt(req.PastContext, req.Preferences)
	user := "Topic: " + req.Text
	model, cost, tokens, temp := g.cfg.ChecklistModel, usage.CostReasoning, 1500, 0.4
	if req.Decision.IsFollowUp {
		system = FollowUpPrompt(req.Decision)
		user = req.Text
		model, cost, tokens, temp = g.cfg.FollowUpModel, usage.CostFollowUp, 500, 0.7
	}

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		MaxTokens:   tokens,
		Temperature: llm.Temperature(temp),
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return &Reply{Text: strings.TrimSpace(resp.Content), Cost: cost}, nil
}

// Fallback answers without a model, used when no API key is configured.
// Its replies cost nothing.
type Fallback struct{}

// Generate implements Generator.
func (Fallback) Generate(_ context.Context, req Request) (*Reply, error) {
	if req.Decision.IsFollowUp {
		return &Reply{Text: "I'd love to help with that, but I need an API key configured. Try asking a new question!"}, nil
	}
	return &Reply{Text: fmt.Sprintf("Prep checklist for: %s\n\n"+
		"- Goals and context\n"+
		"- Key questions (3-5)\n"+
		"- Constraints (time, budget, risks)\n"+
		"- Next steps & follow-up", strings.TrimSpace(req.Text))}, nil
}
