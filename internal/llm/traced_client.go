package llm

import (
	"context"
	"time"

	"github.com/lamosty/aharadar-go/internal/logger"
)

// TracedRouter wraps a Router with span-like structured log entries
// around every call, adapted from the teacher's traced_client.go
// (which wrapped Client methods with LangFuse/PostHog tracing calls).
// This deployment carries no tracing backend, so the "trace" is a
// structured log entry recording purpose, tier, provider, model,
// latency, and token/credit accounting — the same fields a real
// tracing backend would receive.
type TracedRouter struct {
	router *Router
}

// NewTracedRouter wraps router with structured-log tracing.
func NewTracedRouter(router *Router) *TracedRouter {
	return &TracedRouter{router: router}
}

func (t *TracedRouter) ChooseModel(purpose Purpose, tier Tier) (ModelChoice, error) {
	return t.router.ChooseModel(purpose, tier)
}

func (t *TracedRouter) TriageCandidate(ctx context.Context, tier Tier, fields CandidateFields) (CallResult, error) {
	start := time.Now()
	result, err := t.router.TriageCandidate(ctx, tier, fields)
	t.trace("triage", tier, result, time.Since(start), err)
	return result, err
}

func (t *TracedRouter) EnrichCandidate(ctx context.Context, tier Tier, prompt string) (CallResult, error) {
	start := time.Now()
	result, err := t.router.EnrichCandidate(ctx, tier, prompt)
	t.trace("enrich", tier, result, time.Since(start), err)
	return result, err
}

func (t *TracedRouter) CatchupPackSelect(ctx context.Context, tier Tier, prompt string) (CallResult, error) {
	start := time.Now()
	result, err := t.router.CatchupPackSelect(ctx, tier, prompt)
	t.trace("catchup_pack_select", tier, result, time.Since(start), err)
	return result, err
}

func (t *TracedRouter) CatchupPackTier(ctx context.Context, tier Tier, prompt string) (CallResult, error) {
	start := time.Now()
	result, err := t.router.CatchupPackTier(ctx, tier, prompt)
	t.trace("catchup_pack_tier", tier, result, time.Since(start), err)
	return result, err
}

func (t *TracedRouter) Embed(ctx context.Context, tier Tier, texts []string) (EmbeddingResult, error) {
	start := time.Now()
	result, err := t.router.Embed(ctx, tier, texts)
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		logger.Error("llm call failed", err, "purpose", "embed", "tier", string(tier), "latency_ms", latencyMs)
		return result, err
	}
	logger.Info("llm call completed",
		"purpose", "embed", "tier", string(tier),
		"provider", result.Provider, "model", result.Model,
		"input_tokens", result.InputTokens, "cost_estimate_credits", result.CostEstimateCredits,
		"batch_size", len(texts), "latency_ms", latencyMs)
	return result, err
}

func (t *TracedRouter) trace(purpose string, tier Tier, result CallResult, latency time.Duration, err error) {
	latencyMs := latency.Milliseconds()
	if err != nil {
		logger.Error("llm call failed", err, "purpose", purpose, "tier", string(tier), "latency_ms", latencyMs)
		return
	}
	logger.Info("llm call completed",
		"purpose", purpose, "tier", string(tier),
		"provider", result.Provider, "model", result.Model,
		"input_tokens", result.InputTokens, "output_tokens", result.OutputTokens,
		"cost_estimate_credits", result.CostEstimateCredits, "latency_ms", latencyMs)
}
