// Package triage calls the LLM triage task over the allocated
// candidate slice, attaching a TriageOutput to every candidate that
// succeeds. Grounded on teacher's internal/summarize per-item call
// loop (one provider call per item, failures logged and skipped rather
// than aborting the batch).
package triage

import (
	"context"
	"fmt"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Annotated pairs a candidate with the triage output it received, if
// the call succeeded.
type Annotated struct {
	candidates.Candidate
	Triage *llm.TriageOutput
}

// Params bounds one Triage invocation.
type Params struct {
	UserID      string
	Tier        llm.Tier
	WindowStart string
	WindowEnd   string
}

// Run invokes the triage LLM task for every candidate in allocated, in
// order, persisting one ProviderCall per attempt. A failed call is
// logged, skipped, and leaves that candidate's Triage nil; it never
// aborts the run, per spec.md §4.10.
func Run(ctx context.Context, gw storage.Gateway, router *llm.TracedRouter, allocated []candidates.Candidate, params Params) ([]Annotated, error) {
	out := make([]Annotated, len(allocated))
	for i, c := range allocated {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("triage loop cancelled: %w", err)
		}
		out[i] = Annotated{Candidate: c}

		fields := llm.CandidateFields{
			Title:       titleOrEmpty(c.Title),
			BodySnippet: c.BodySnippet,
			SourceType:  c.SourceType,
			SourceName:  c.SourceName,
			PrimaryURL:  urlOrEmpty(c.PrimaryURL),
			Author:      c.Author,
			PublishedAt: c.CandidateAt.UTC().Format("2006-01-02T15:04:05Z"),
			WindowStart: params.WindowStart,
			WindowEnd:   params.WindowEnd,
		}

		result, err := router.TriageCandidate(ctx, params.Tier, fields)
		status := core.ProviderCallOK
		var errMeta map[string]any
		if err != nil {
			status = core.ProviderCallError
			errMeta = map[string]any{"message": err.Error()}
		}
		if insertErr := gw.ProviderCalls().Insert(ctx, core.ProviderCall{
			ID:                  core.NewID(),
			UserID:              params.UserID,
			Purpose:             core.PurposeTriage,
			Provider:            result.Provider,
			Model:               result.Model,
			InputTokens:         result.InputTokens,
			OutputTokens:        result.OutputTokens,
			CostEstimateCredits: result.CostEstimateCredits,
			Status:              status,
			Error:               errMeta,
		}); insertErr != nil {
			return nil, fmt.Errorf("record triage provider call: %w", insertErr)
		}

		if err != nil {
			logger.Warn("triage call failed, skipping candidate", "source_type", c.SourceType, "error", err)
			continue
		}
		output := result.Output
		out[i].Triage = &output
	}
	return out, nil
}

func titleOrEmpty(title *string) string {
	if title == nil {
		return ""
	}
	return *title
}

func urlOrEmpty(url *string) string {
	if url == nil {
		return ""
	}
	return *url
}
