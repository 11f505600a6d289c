package enrich

import (
	"context"
	"testing"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/pipeline/rank"
	"github.com/lamosty/aharadar-go/internal/storage"
)

type fakeGateway struct {
	storage.Gateway
	providerCalls fakeProviderCallRepo
}

func (g *fakeGateway) ProviderCalls() storage.ProviderCallRepo { return &g.providerCalls }

type fakeProviderCallRepo struct {
	storage.ProviderCallRepo
	inserted []core.ProviderCall
}

func (r *fakeProviderCallRepo) Insert(ctx context.Context, call core.ProviderCall) error {
	r.inserted = append(r.inserted, call)
	return nil
}

type fakeAdapter struct{}

func (a *fakeAdapter) Name() string { return "fake" }
func (a *fakeAdapter) Triage(ctx context.Context, model string, fields llm.CandidateFields) (llm.CallResult, error) {
	return llm.CallResult{}, nil
}
func (a *fakeAdapter) Enrich(ctx context.Context, model string, prompt string) (llm.CallResult, error) {
	return llm.CallResult{Provider: "fake", Model: model, RawText: "summary of: " + prompt}, nil
}

func testRouter() *llm.TracedRouter {
	cfg := llm.RouterConfig{Models: map[llm.Purpose]map[llm.Tier]llm.ModelChoice{
		llm.PurposeEnrich: {llm.TierNormal: {Provider: "fake", Model: "fake-enrich"}},
	}}
	return llm.NewTracedRouter(llm.NewRouter(cfg, nil, &fakeAdapter{}))
}

func deepRanked(title string) rank.Ranked {
	return rank.Ranked{
		Candidate:     candidates.Candidate{Title: &title},
		HasTriageData: true,
		TriageJSON:    map[string]any{"should_deep_summarize": true},
	}
}

func TestRunEnrichesEligibleCandidates(t *testing.T) {
	gw := &fakeGateway{}
	router := testRouter()
	selected := []rank.Ranked{deepRanked("a"), deepRanked("b")}

	out, err := Run(context.Background(), gw, router, selected, Params{Tier: llm.TierNormal, MaxDeep: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(out))
	}
}

func TestRunRespectsMaxDeepCap(t *testing.T) {
	gw := &fakeGateway{}
	router := testRouter()
	selected := []rank.Ranked{deepRanked("a"), deepRanked("b"), deepRanked("c")}

	out, err := Run(context.Background(), gw, router, selected, Params{Tier: llm.TierNormal, MaxDeep: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected only 1 summary under MaxDeep=1, got %d", len(out))
	}
}

func TestRunSkipsCandidatesNotMarkedForDeepSummary(t *testing.T) {
	gw := &fakeGateway{}
	router := testRouter()
	shallow := rank.Ranked{HasTriageData: true, TriageJSON: map[string]any{"should_deep_summarize": false}}
	selected := []rank.Ranked{shallow}

	out, err := Run(context.Background(), gw, router, selected, Params{Tier: llm.TierNormal, MaxDeep: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no summaries for candidates not marked deep, got %d", len(out))
	}
}
