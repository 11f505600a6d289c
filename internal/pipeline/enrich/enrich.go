// Package enrich calls the LLM enrich task for selected candidates
// eligible for a deep summary, attaching the resulting structured
// summary for the digest writer. Grounded on the same per-item call
// loop as internal/pipeline/triage, reusing its ProviderCall accounting
// shape for the enrich purpose.
package enrich

import (
	"context"
	"fmt"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/pipeline/rank"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Summary is the enrichment output attached to a digest item's
// summary_json.
type Summary struct {
	Text     string
	Provider string
	Model    string
}

// Params bounds one Enrich invocation.
type Params struct {
	UserID string
	Tier   llm.Tier
	// MaxDeep caps how many selected candidates receive a deep summary
	// call, per the mode-derived cap named in spec.md §4.15.
	MaxDeep int
}

// Run calls enrich for up to params.MaxDeep selected candidates whose
// triage output marked should_deep_summarize, in ranked order.
// Failures are logged and skipped; they never abort the run.
func Run(ctx context.Context, gw storage.Gateway, router *llm.TracedRouter, selected []rank.Ranked, params Params) (map[int]Summary, error) {
	out := make(map[int]Summary)
	deepCount := 0

	for i, r := range selected {
		if deepCount >= params.MaxDeep {
			break
		}
		if !r.HasTriageData {
			continue
		}
		shouldDeep, _ := r.TriageJSON["should_deep_summarize"].(bool)
		if !shouldDeep {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("enrich loop cancelled: %w", err)
		}

		prompt := buildPrompt(r)
		result, err := router.EnrichCandidate(ctx, params.Tier, prompt)
		status := core.ProviderCallOK
		var errMeta map[string]any
		if err != nil {
			status = core.ProviderCallError
			errMeta = map[string]any{"message": err.Error()}
		}
		if insertErr := gw.ProviderCalls().Insert(ctx, core.ProviderCall{
			ID:                  core.NewID(),
			UserID:              params.UserID,
			Purpose:             core.PurposeEnrich,
			Provider:            result.Provider,
			Model:               result.Model,
			InputTokens:         result.InputTokens,
			OutputTokens:        result.OutputTokens,
			CostEstimateCredits: result.CostEstimateCredits,
			Status:              status,
			Error:               errMeta,
		}); insertErr != nil {
			return nil, fmt.Errorf("record enrich provider call: %w", insertErr)
		}

		if err != nil {
			logger.Warn("enrich call failed, skipping candidate", "source_type", r.Candidate.SourceType, "error", err)
			continue
		}
		out[i] = Summary{Text: result.RawText, Provider: result.Provider, Model: result.Model}
		deepCount++
	}
	return out, nil
}

func buildPrompt(r rank.Ranked) string {
	title := ""
	if r.Candidate.Title != nil {
		title = *r.Candidate.Title
	}
	return fmt.Sprintf("Summarize for digest:\nTitle: %s\nBody: %s\n", title, r.Candidate.BodySnippet)
}
