package llm

import (
	"context"
	"testing"
)

type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Triage(_ context.Context, model string, fields CandidateFields) (CallResult, error) {
	return CallResult{
		Model:       model,
		InputTokens: len(fields.Title) + len(fields.BodySnippet),
		Output: TriageOutput{
			AIScore:    42,
			IsRelevant: true,
			Topic:      fields.SourceName,
		},
	}, nil
}

func (f *fakeAdapter) Enrich(_ context.Context, model string, prompt string) (CallResult, error) {
	return CallResult{Model: model, RawText: "enriched: " + prompt}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, model string, texts []string) (EmbeddingResult, error) {
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{1, 0, 0}
	}
	return EmbeddingResult{Model: model, Vectors: vectors}, nil
}

func testRouter() *Router {
	cfg := RouterConfig{Models: map[Purpose]map[Tier]ModelChoice{
		PurposeTriage: {
			TierLow:    {Provider: "gemini", Model: "gemini-flash-lite-latest"},
			TierNormal: {Provider: "gemini", Model: "gemini-flash-latest"},
			TierHigh:   {Provider: "anthropic", Model: "claude-sonnet"},
		},
		PurposeEnrich: {
			TierLow:    {Provider: "gemini", Model: "gemini-flash-lite-latest"},
			TierNormal: {Provider: "gemini", Model: "gemini-flash-latest"},
			TierHigh:   {Provider: "anthropic", Model: "claude-sonnet"},
		},
		PurposeEmbed: {
			TierLow:    {Provider: "gemini", Model: "gemini-embedding-001"},
			TierNormal: {Provider: "gemini", Model: "gemini-embedding-001"},
			TierHigh:   {Provider: "gemini", Model: "gemini-embedding-001"},
		},
		PurposeCatchupPackSelect: {
			TierLow: {Provider: "gemini", Model: "gemini-flash-lite-latest"},
		},
		PurposeCatchupPackTier: {
			TierLow: {Provider: "gemini", Model: "gemini-flash-lite-latest"},
		},
	}}
	return NewRouter(cfg, fakeEmbedder{}, &fakeAdapter{name: "gemini"}, &fakeAdapter{name: "anthropic"})
}

func TestRouterChooseModel(t *testing.T) {
	r := testRouter()

	choice, err := r.ChooseModel(PurposeTriage, TierHigh)
	if err != nil {
		t.Fatalf("ChooseModel: %v", err)
	}
	if choice.Provider != "anthropic" {
		t.Errorf("expected anthropic for high tier triage, got %s", choice.Provider)
	}

	if _, err := r.ChooseModel(PurposeTriage, Tier("bogus")); err == nil {
		t.Error("expected error for unknown tier")
	}
	if _, err := r.ChooseModel(Purpose("bogus"), TierLow); err == nil {
		t.Error("expected error for unknown purpose")
	}
}

func TestRouterTriageCandidate(t *testing.T) {
	r := testRouter()

	result, err := r.TriageCandidate(context.Background(), TierNormal, CandidateFields{
		Title:      "Example title",
		SourceName: "example-source",
	})
	if err != nil {
		t.Fatalf("TriageCandidate: %v", err)
	}
	if result.Provider != "gemini" || result.Model != "gemini-flash-latest" {
		t.Errorf("unexpected provider/model: %+v", result)
	}
	if !result.Output.IsRelevant {
		t.Error("expected fake adapter to mark relevant")
	}
	if result.Output.Topic != "example-source" {
		t.Errorf("expected adapter to echo source name, got %q", result.Output.Topic)
	}
}

func TestRouterTriageCandidateUnknownProvider(t *testing.T) {
	cfg := RouterConfig{Models: map[Purpose]map[Tier]ModelChoice{
		PurposeTriage: {TierLow: {Provider: "unregistered", Model: "x"}},
	}}
	r := NewRouter(cfg, nil, &fakeAdapter{name: "gemini"})

	if _, err := r.TriageCandidate(context.Background(), TierLow, CandidateFields{}); err == nil {
		t.Error("expected error dispatching to unregistered provider")
	}
}

func TestRouterEmbed(t *testing.T) {
	r := testRouter()

	result, err := r.Embed(context.Background(), TierLow, []string{"hello", "world"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(result.Vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(result.Vectors))
	}
	if result.Provider != "gemini" {
		t.Errorf("expected gemini provider, got %s", result.Provider)
	}
}

func TestRouterEmbedNoEmbedder(t *testing.T) {
	cfg := RouterConfig{Models: map[Purpose]map[Tier]ModelChoice{
		PurposeEmbed: {TierLow: {Provider: "gemini", Model: "x"}},
	}}
	r := NewRouter(cfg, nil, &fakeAdapter{name: "gemini"})

	if _, err := r.Embed(context.Background(), TierLow, []string{"a"}); err == nil {
		t.Error("expected error with no embedding adapter configured")
	}
}

func TestRouterCatchupPurposes(t *testing.T) {
	r := testRouter()

	selectResult, err := r.CatchupPackSelect(context.Background(), TierLow, "pick the best items")
	if err != nil {
		t.Fatalf("CatchupPackSelect: %v", err)
	}
	if selectResult.RawText == "" {
		t.Error("expected non-empty enrich-shaped response")
	}

	tierResult, err := r.CatchupPackTier(context.Background(), TierLow, "which tier fits this pack")
	if err != nil {
		t.Fatalf("CatchupPackTier: %v", err)
	}
	if tierResult.Model != "gemini-flash-lite-latest" {
		t.Errorf("unexpected model: %s", tierResult.Model)
	}
}
