package continuity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/prepmate/internal/prepmate/llm"
)

type fakeProvider struct {
	content string
	err     error
	got     llm.CompletionRequest
}

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func TestLLMClassifier_ParsesVerdict(t *testing.T) {
	p := &fakeProvider{content: `{"kind":"refinement","confidence":0.92}`}
	c := NewLLMClassifier(p, "")

	v, err := c.Classify(context.Background(), "make it shorter", []string{"user: prep me", "bot: • one"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Kind != KindRefinement || v.Confidence != 0.92 {
		t.Errorf("verdict = %+v", v)
	}

	if !p.got.JSON {
		t.Error("expected JSON mode")
	}
	user := p.got.Messages[len(p.got.Messages)-1].Content
	if !strings.Contains(user, "Previous messages:\nuser: prep me\nbot: • one") ||
		!strings.HasSuffix(user, "Current message: make it shorter") {
		t.Errorf("user prompt = %q", user)
	}
}

func TestLLMClassifier_RejectsMalformedOutput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "refinement, 0.9"},
		{"unknown kind", `{"kind":"greeting","confidence":0.9}`},
		{"missing confidence", `{"kind":"follow_up"}`},
		{"confidence above one", `{"kind":"follow_up","confidence":7}`},
		{"confidence as string", `{"kind":"follow_up","confidence":"high"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewLLMClassifier(&fakeProvider{content: tt.content}, "").
				Classify(context.Background(), "what about it", nil)
			if !errors.Is(err, ErrClassifierMalformed) {
				t.Errorf("err = %v, want ErrClassifierMalformed", err)
			}
			if v != Unclear {
				t.Errorf("verdict = %+v, want Unclear", v)
			}
		})
	}
}

func TestLLMClassifier_ProviderFailure(t *testing.T) {
	p := &fakeProvider{err: llm.ErrRateLimit}
	_, err := NewLLMClassifier(p, "").Classify(context.Background(), "why", nil)
	if !errors.Is(err, ErrClassifierUnavailable) || !errors.Is(err, llm.ErrRateLimit) {
		t.Errorf("err = %v, want ErrClassifierUnavailable wrapping the cause", err)
	}
	if p.got.Messages[1].Content != "why" {
		t.Errorf("without history the prompt should be the bare message, got %q", p.got.Messages[1].Content)
	}
}
