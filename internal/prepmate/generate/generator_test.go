package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/prepmate/internal/prepmate/continuity"
	"github.com/bdobrica/prepmate/internal/prepmate/llm"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
	"github.com/bdobrica/prepmate/internal/prepmate/usage"
)

type recordingProvider struct {
	reply string
	err   error
	got   llm.CompletionRequest
}

func (p *recordingProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.got = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Content: p.reply}, nil
}

func TestLLMGenerator_NewTopic(t *testing.T) {
	p := &recordingProvider{reply: "  • Bring insurance card\n"}
	g := NewLLM(p, Config{ChecklistModel: "o4-mini", FollowUpModel: "gpt-4o-mini"})

	prefs := *store.DefaultPreferences("tg:1")
	prefs.PreferredLength = store.LengthShort
	prefs.MaxBullets = 5

	reply, err := g.Generate(context.Background(), Request{
		Text:        "dentist appointment",
		Decision:    continuity.NewTopic(),
		PastContext: "PAST RELATED CHECKLISTS:\n1. dentist",
		Preferences: prefs,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Text != "• Bring insurance card" || reply.Cost != usage.CostReasoning {
		t.Errorf("reply = %+v", reply)
	}
	if p.got.Model != "o4-mini" {
		t.Errorf("model = %q, want the checklist model", p.got.Model)
	}
	system := p.got.Messages[0].Content
	for _, want := range []string{"checklists", "PAST RELATED CHECKLISTS", "Keep to 5 bullets maximum"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if p.got.Messages[1].Content != "Topic: dentist appointment" {
		t.Errorf("user message = %q", p.got.Messages[1].Content)
	}
}

func TestLLMGenerator_FollowUp(t *testing.T) {
	p := &recordingProvider{reply: "• shorter"}
	g := NewLLM(p, Config{ChecklistModel: "o4-mini", FollowUpModel: "gpt-4o-mini"})

	reply, err := g.Generate(context.Background(), Request{
		Text: "make it shorter",
		Decision: continuity.Decision{
			IsFollowUp:  true,
			Kind:        continuity.KindRefinement,
			Refinement:  continuity.RefineShorter,
			ContextText: "User: dentist\n\nAssistant: • a\n• b",
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Cost != usage.CostFollowUp {
		t.Errorf("Cost = %v, want the follow-up cost", reply.Cost)
	}
	if p.got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", p.got.Model)
	}
	system := p.got.Messages[0].Content
	if !strings.Contains(system, "Assistant: • a") || !strings.Contains(system, "SHORTER version") {
		t.Errorf("system prompt = %q", system)
	}
}

func TestLLMGenerator_ProviderError(t *testing.T) {
	g := NewLLM(&recordingProvider{err: llm.ErrUnavailable}, Config{})
	if _, err := g.Generate(context.Background(), Request{Text: "x"}); !errors.Is(err, llm.ErrUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestFollowUpPrompt_FocusArea(t *testing.T) {
	tests := []struct {
		kind continuity.Kind
		want string
	}{
		{continuity.KindRefinement, `focus more on "budget"`},
		{continuity.KindClarification, `they're asking about "budget"`},
		{continuity.KindFollowUp, `particularly interested in "budget"`},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := FollowUpPrompt(continuity.Decision{IsFollowUp: true, Kind: tt.kind, FocusArea: "budget"})
			if !strings.Contains(got, tt.want) {
				t.Errorf("prompt missing %q", tt.want)
			}
		})
	}
}

func TestChecklistPrompt_Preferences(t *testing.T) {
	prefs := *store.DefaultPreferences("tg:1")
	if got := ChecklistPrompt("", prefs); got != checklistPrompt {
		t.Errorf("default preferences should not change the prompt: %q", got)
	}

	prefs.PreferredTone = store.ToneCasual
	prefs.PreferredLength = store.LengthLong
	got := ChecklistPrompt("", prefs)
	if !strings.Contains(got, "DETAILED checklists") || !strings.Contains(got, "friendly, conversational") {
		t.Errorf("prompt = %q", got)
	}
}

func TestFallback(t *testing.T) {
	reply, _ := Fallback{}.Generate(context.Background(), Request{Text: " dentist "})
	if !strings.HasPrefix(reply.Text, "Prep checklist for: dentist\n") || reply.Cost != 0 {
		t.Errorf("reply = %+v", reply)
	}
	reply, _ = Fallback{}.Generate(context.Background(), Request{Decision: continuity.Decision{IsFollowUp: true}})
	if !strings.Contains(reply.Text, "API key") {
		t.Errorf("follow-up fallback = %q", reply.Text)
	}
}
