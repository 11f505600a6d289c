// Package llm implements the tier-aware model router the pipeline
// calls for every paid operation: triage, enrich, catch-up pack
// selection/tiering, and embedding. Adapted from the teacher's
// internal/llm/llm.go Gemini client shape, generalized from one
// hardcoded provider into a Router dispatching across provider
// adapters by purpose and tier.
package llm

import (
	"context"
	"fmt"
)

// Purpose names the call site a Router dispatch originates from,
// matching the set the pipeline invokes the router for.
type Purpose string

const (
	PurposeTriage            Purpose = "triage"
	PurposeEnrich            Purpose = "enrich"
	PurposeEmbed             Purpose = "embed"
	PurposeCatchupPackSelect Purpose = "catchup_pack_select"
	PurposeCatchupPackTier   Purpose = "catchup_pack_tier"
)

// Tier selects model cost/quality for one call.
type Tier string

const (
	TierLow    Tier = "low"
	TierNormal Tier = "normal"
	TierHigh   Tier = "high"
)

// ModelChoice is what chooseModel resolves a (purpose, tier) pair to.
type ModelChoice struct {
	Provider string
	Model    string
	Endpoint string
}

// CandidateFields is the topic-agnostic prompt payload for a triage
// call, per spec.md's TriageCandidate contract.
type CandidateFields struct {
	Title       string
	BodySnippet string
	SourceType  string
	SourceName  string
	PrimaryURL  string
	Author      string
	PublishedAt string
	WindowStart string
	WindowEnd   string
}

// TriageOutput is the structured result of one triage call.
type TriageOutput struct {
	SchemaVersion       int      `json:"schema_version"`
	PromptID            string   `json:"prompt_id"`
	Provider            string   `json:"provider"`
	Model               string   `json:"model"`
	AIScore             float64  `json:"ai_score"`
	Reason              string   `json:"reason"`
	IsRelevant          bool     `json:"is_relevant"`
	IsNovel             bool     `json:"is_novel"`
	Categories          []string `json:"categories"`
	ShouldDeepSummarize bool     `json:"should_deep_summarize"`
	Topic               string   `json:"topic"`
	OneLiner            string   `json:"one_liner"`
}

// CallResult is the accounting a provider adapter reports back for
// every paid call, persisted to ProviderCall by the caller.
type CallResult struct {
	Provider            string
	Model               string
	Endpoint            string
	InputTokens         int
	OutputTokens        int
	CostEstimateCredits float64
	Output              TriageOutput
	RawText             string
}

// EmbeddingResult is what the embedding client returns for one batch.
type EmbeddingResult struct {
	Provider            string
	Model               string
	Endpoint            string
	InputTokens         int
	CostEstimateCredits float64
	Vectors             [][]float64
}

// ProviderAdapter is the interface every concrete LLM backend
// implements; Gemini and Anthropic each supply one.
type ProviderAdapter interface {
	Name() string
	Triage(ctx context.Context, model string, fields CandidateFields) (CallResult, error)
	Enrich(ctx context.Context, model string, prompt string) (CallResult, error)
}

// EmbeddingAdapter is implemented by providers that can embed text;
// only Gemini does in this deployment (spec.md's embed purpose is
// always routed to Gemini's embedding model).
type EmbeddingAdapter interface {
	Embed(ctx context.Context, model string, texts []string) (EmbeddingResult, error)
}

// Router resolves (purpose, tier) to a model and dispatches the call
// to the matching provider adapter.
type Router struct {
	adapters  map[string]ProviderAdapter
	embedder  EmbeddingAdapter
	modelsFor map[Purpose]map[Tier]ModelChoice
}

// RouterConfig names the provider and model chosen for each
// (purpose, tier) pair the pipeline may request.
type RouterConfig struct {
	Models map[Purpose]map[Tier]ModelChoice
}

// NewRouter wires the provider adapters and the embedding adapter
// behind one dispatch surface.
func NewRouter(cfg RouterConfig, embedder EmbeddingAdapter, adapters ...ProviderAdapter) *Router {
	byName := make(map[string]ProviderAdapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Router{adapters: byName, embedder: embedder, modelsFor: cfg.Models}
}

// ChooseModel resolves a (purpose, tier) pair to a provider/model/endpoint.
func (r *Router) ChooseModel(purpose Purpose, tier Tier) (ModelChoice, error) {
	byTier, ok := r.modelsFor[purpose]
	if !ok {
		return ModelChoice{}, fmt.Errorf("no model configured for purpose %q", purpose)
	}
	choice, ok := byTier[tier]
	if !ok {
		return ModelChoice{}, fmt.Errorf("no model configured for purpose %q tier %q", purpose, tier)
	}
	return choice, nil
}

// TriageCandidate resolves the model for (triage, tier) and calls the
// matching provider adapter, returning full call accounting.
func (r *Router) TriageCandidate(ctx context.Context, tier Tier, fields CandidateFields) (CallResult, error) {
	choice, err := r.ChooseModel(PurposeTriage, tier)
	if err != nil {
		return CallResult{}, err
	}
	adapter, ok := r.adapters[choice.Provider]
	if !ok {
		return CallResult{}, fmt.Errorf("no adapter registered for provider %q", choice.Provider)
	}
	result, err := adapter.Triage(ctx, choice.Model, fields)
	if err != nil {
		return CallResult{}, err
	}
	result.Provider = choice.Provider
	result.Model = choice.Model
	result.Endpoint = choice.Endpoint
	return result, nil
}

// EnrichCandidate resolves the model for (enrich, tier) and calls the
// matching provider adapter with a free-form prompt.
func (r *Router) EnrichCandidate(ctx context.Context, tier Tier, prompt string) (CallResult, error) {
	choice, err := r.ChooseModel(PurposeEnrich, tier)
	if err != nil {
		return CallResult{}, err
	}
	adapter, ok := r.adapters[choice.Provider]
	if !ok {
		return CallResult{}, fmt.Errorf("no adapter registered for provider %q", choice.Provider)
	}
	result, err := adapter.Enrich(ctx, choice.Model, prompt)
	if err != nil {
		return CallResult{}, err
	}
	result.Provider = choice.Provider
	result.Model = choice.Model
	result.Endpoint = choice.Endpoint
	return result, nil
}

// CatchupPackSelect and CatchupPackTier reuse the enrich call shape:
// both purposes dispatch a free-form prompt and expect a text
// response the scheduler parses itself.
func (r *Router) CatchupPackSelect(ctx context.Context, tier Tier, prompt string) (CallResult, error) {
	return r.routeFreeform(ctx, PurposeCatchupPackSelect, tier, prompt)
}

func (r *Router) CatchupPackTier(ctx context.Context, tier Tier, prompt string) (CallResult, error) {
	return r.routeFreeform(ctx, PurposeCatchupPackTier, tier, prompt)
}

func (r *Router) routeFreeform(ctx context.Context, purpose Purpose, tier Tier, prompt string) (CallResult, error) {
	choice, err := r.ChooseModel(purpose, tier)
	if err != nil {
		return CallResult{}, err
	}
	adapter, ok := r.adapters[choice.Provider]
	if !ok {
		return CallResult{}, fmt.Errorf("no adapter registered for provider %q", choice.Provider)
	}
	result, err := adapter.Enrich(ctx, choice.Model, prompt)
	if err != nil {
		return CallResult{}, err
	}
	result.Provider = choice.Provider
	result.Model = choice.Model
	result.Endpoint = choice.Endpoint
	return result, nil
}

// Embed resolves the model for (embed, tier) and calls the embedding
// adapter. The embedding adapter itself doesn't vary behavior by
// tier, but the call still goes through ChooseModel so its
// ProviderCall record reflects the tier the budget gate selected.
func (r *Router) Embed(ctx context.Context, tier Tier, texts []string) (EmbeddingResult, error) {
	choice, err := r.ChooseModel(PurposeEmbed, tier)
	if err != nil {
		return EmbeddingResult{}, err
	}
	if r.embedder == nil {
		return EmbeddingResult{}, fmt.Errorf("no embedding adapter configured")
	}
	result, err := r.embedder.Embed(ctx, choice.Model, texts)
	if err != nil {
		return EmbeddingResult{}, err
	}
	result.Provider = choice.Provider
	result.Model = choice.Model
	result.Endpoint = choice.Endpoint
	return result, nil
}
