// Package ingest runs the per-topic fetch cycle: for every enabled
// source, open a FetchRun, pull raw items through the connector
// registry, normalize and upsert them as ContentItems, and finalize the
// run with counts and a terminal status. Grounded on the teacher's
// pipeline.go stage sequencing (open a unit of work, process it,
// finalize with a status), generalized from one whole-digest pipeline
// run into one FetchRun per source.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lamosty/aharadar-go/internal/connectors"
	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/storage"
	"github.com/lamosty/aharadar-go/internal/urlcanon"
)

// Params bounds one Ingest invocation for one topic.
type Params struct {
	UserID            string
	TopicID           string
	WindowStart       time.Time
	WindowEnd         time.Time
	MaxItemsPerSource int
	OnlySourceTypes   map[string]bool
	OnlySourceIDs     map[string]bool
	PaidCallsAllowed  bool
}

// SourceResult records the outcome for one source.
type SourceResult struct {
	SourceID string
	Status   core.FetchRunStatus
	Fetched  int
	Upserted int
	Errors   int
	Reason   string
}

// Result is the aggregate outcome of one Ingest invocation.
type Result struct {
	Sources []SourceResult
}

// Run executes the ingest protocol against every enabled source of the
// topic, per spec.md §4.3.
func Run(ctx context.Context, gw storage.Gateway, fetcher *connectors.Fetcher, params Params) (Result, error) {
	sources, err := gw.Sources().ListEnabledByTopic(ctx, params.TopicID)
	if err != nil {
		return Result{}, fmt.Errorf("list enabled sources: %w", err)
	}

	result := Result{Sources: make([]SourceResult, 0, len(sources))}
	for _, source := range sources {
		if !sourceSelected(source, params) {
			continue
		}
		sr := runSource(ctx, gw, fetcher, source, params)
		result.Sources = append(result.Sources, sr)
	}
	return result, nil
}

func sourceSelected(source core.Source, params Params) bool {
	if len(params.OnlySourceTypes) > 0 && !params.OnlySourceTypes[source.Type] {
		return false
	}
	if len(params.OnlySourceIDs) > 0 && !params.OnlySourceIDs[source.ID] {
		return false
	}
	return true
}

func runSource(ctx context.Context, gw storage.Gateway, fetcher *connectors.Fetcher, source core.Source, params Params) SourceResult {
	run, err := gw.FetchRuns().Create(ctx, core.FetchRun{
		SourceID:  source.ID,
		StartedAt: time.Now(),
		Status:    core.FetchRunOK,
		CursorIn:  source.Cursor,
	})
	if err != nil {
		logger.Error("failed to open fetch run", err, "source_id", source.ID)
		return SourceResult{SourceID: source.ID, Status: core.FetchRunError, Reason: err.Error()}
	}

	if connectors.IsPaid(source.Type) && !params.PaidCallsAllowed {
		msg := "budget_exhausted"
		_ = gw.FetchRuns().Finalize(ctx, run.ID, core.FetchRunSkipped, nil, nil, &msg)
		return SourceResult{SourceID: source.ID, Status: core.FetchRunSkipped, Reason: msg}
	}

	fetchParams := connectors.FetchParams{
		Config:      source.Config,
		Cursor:      source.Cursor,
		MaxItems:    params.MaxItemsPerSource,
		WindowStart: params.WindowStart,
		WindowEnd:   params.WindowEnd,
	}

	fetched, err := fetcher.Fetch(ctx, source.Type, source.ID, fetchParams)
	if err != nil {
		errMsg := err.Error()
		_ = gw.FetchRuns().Finalize(ctx, run.ID, core.FetchRunError, nil, nil, &errMsg)
		return SourceResult{SourceID: source.ID, Status: core.FetchRunError, Reason: errMsg}
	}

	if fetched.NotModified {
		counts := map[string]int{"fetched": 0, "upserted": 0, "errors": 0}
		_ = gw.FetchRuns().Finalize(ctx, run.ID, core.FetchRunOK, fetched.NextCursor, counts, nil)
		return SourceResult{SourceID: source.ID, Status: core.FetchRunOK}
	}

	conn, err := fetcher.Connector(source.Type)
	if err != nil {
		errMsg := err.Error()
		_ = gw.FetchRuns().Finalize(ctx, run.ID, core.FetchRunError, nil, nil, &errMsg)
		return SourceResult{SourceID: source.ID, Status: core.FetchRunError, Reason: errMsg}
	}

	var upserted, normalizeErrors int
	for _, raw := range fetched.RawItems {
		draft, err := conn.Normalize(ctx, raw, fetchParams)
		if err != nil {
			logger.Warn("normalize failed", "source_id", source.ID, "error", err)
			normalizeErrors++
			continue
		}
		if err := upsertDraft(ctx, gw, params.UserID, source.ID, draft); err != nil {
			logger.Warn("upsert failed", "source_id", source.ID, "error", err)
			normalizeErrors++
			continue
		}
		upserted++
	}

	for _, callDraft := range fetched.ProviderCalls {
		_ = gw.ProviderCalls().Insert(ctx, core.ProviderCall{
			ID:                  core.NewID(),
			UserID:              params.UserID,
			Purpose:             core.PurposeIngest,
			Provider:            callDraft.Provider,
			Model:               callDraft.Model,
			InputTokens:         callDraft.InputTokens,
			OutputTokens:        callDraft.OutputTokens,
			CostEstimateCredits: callDraft.CostEstimateCredits,
			StartedAt:           time.Now(),
			EndedAt:             time.Now(),
			Status:              core.ProviderCallOK,
		})
	}

	nextCursor := mergeCursor(fetched.NextCursor, params.WindowEnd)
	status := core.FetchRunOK
	if normalizeErrors > 0 {
		status = core.FetchRunPartial
	}
	counts := map[string]int{
		"fetched":  len(fetched.RawItems),
		"upserted": upserted,
		"errors":   normalizeErrors,
	}

	if err := gw.Sources().UpdateCursor(ctx, source.ID, nextCursor); err != nil {
		logger.Error("failed to advance source cursor", err, "source_id", source.ID)
	}
	if err := gw.FetchRuns().Finalize(ctx, run.ID, status, nextCursor, counts, nil); err != nil {
		logger.Error("failed to finalize fetch run", err, "source_id", source.ID)
	}

	return SourceResult{SourceID: source.ID, Status: status, Fetched: len(fetched.RawItems), Upserted: upserted, Errors: normalizeErrors}
}

func upsertDraft(ctx context.Context, gw storage.Gateway, userID, sourceID string, draft storage.ContentItemDraft) error {
	var hashURL *string
	if draft.CanonicalURL != nil {
		canonical := urlcanon.Canonicalize(*draft.CanonicalURL)
		draft.CanonicalURL = &canonical
		h := sha256Hex(canonical)
		hashURL = &h
	}

	var syntheticExternalID *string
	if draft.ExternalID == nil {
		canonical := ""
		if draft.CanonicalURL != nil {
			canonical = *draft.CanonicalURL
		}
		synthetic := sha256Hex(fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
			sourceID, draft.SourceType, draft.Title, draft.BodyText, canonical, draft.PublishedAt.Format(time.RFC3339), draft.Author))
		syntheticExternalID = &synthetic
	}

	item, err := gw.ContentItems().Upsert(ctx, userID, sourceID, draft, hashURL, syntheticExternalID)
	if err != nil {
		return fmt.Errorf("upsert content item: %w", err)
	}
	return gw.ContentItemSources().Link(ctx, item.ID, sourceID)
}

func mergeCursor(nextCursor map[string]any, windowEnd time.Time) map[string]any {
	merged := make(map[string]any, len(nextCursor)+1)
	for k, v := range nextCursor {
		merged[k] = v
	}
	merged["last_fetch_at"] = windowEnd
	return merged
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
