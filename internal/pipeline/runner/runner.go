// Package runner orchestrates one (user, topic, window) pipeline run:
// resolves the effective tier from the budget gate, runs Ingest,
// Embed, Dedupe, and Cluster unconditionally, and — only when paid
// calls are allowed — assembles candidates, samples, triages, ranks,
// diversifies, enriches, and writes the digest. Grounded on the
// teacher's pipeline.go top-level stage-sequencing loop, generalized
// from one fixed stage list into the conditional Digest-or-STOP policy
// spec.md §4.17 describes.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/lamosty/aharadar-go/internal/budget"
	"github.com/lamosty/aharadar-go/internal/connectors"
	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/pipeline/cluster"
	"github.com/lamosty/aharadar-go/internal/pipeline/dedupe"
	"github.com/lamosty/aharadar-go/internal/pipeline/diversity"
	"github.com/lamosty/aharadar-go/internal/pipeline/embed"
	"github.com/lamosty/aharadar-go/internal/pipeline/enrich"
	"github.com/lamosty/aharadar-go/internal/pipeline/fairsample"
	"github.com/lamosty/aharadar-go/internal/pipeline/ingest"
	"github.com/lamosty/aharadar-go/internal/pipeline/novelty"
	"github.com/lamosty/aharadar-go/internal/pipeline/rank"
	"github.com/lamosty/aharadar-go/internal/pipeline/signal"
	"github.com/lamosty/aharadar-go/internal/pipeline/triage"
	"github.com/lamosty/aharadar-go/internal/pipeline/triagealloc"
	digestwriter "github.com/lamosty/aharadar-go/internal/pipeline/digest"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Params bounds one Run invocation.
type Params struct {
	Topic       core.Topic
	WindowStart time.Time
	WindowEnd   time.Time

	MonthlyCredits       float64
	DailyThrottleCredits *float64

	EmbedModel        string
	EmbedDims         int
	MaxItemsPerSource int

	MaxPoolSize         int
	MaxTriageCalls      int
	ExplorationFraction float64
	NoveltyLookbackDays int
	MaxDigestItems      int
	MaxDeepSummaries    int

	EnableSignalCorroboration bool
	SignalWeight              float64
}

// Result is the aggregate outcome of one run.
type Result struct {
	Tier                      core.Tier
	Ingest                    ingest.Result
	Embed                     embed.Result
	Dedupe                    dedupe.Result
	Cluster                   cluster.Result
	Digest                    *core.Digest
	DigestSkippedDueToCredits bool
}

// Run executes one full pipeline window, per spec.md §4.17.
func Run(ctx context.Context, gw storage.Gateway, fetcher *connectors.Fetcher, router *llm.TracedRouter, budgetEngine *budget.Engine, params Params) (Result, error) {
	status, err := budgetEngine.ComputeCreditsStatus(ctx, params.Topic.UserID, params.MonthlyCredits, params.DailyThrottleCredits, params.WindowEnd)
	if err != nil {
		return Result{}, fmt.Errorf("compute credits status: %w", err)
	}

	tier := core.TierLow
	if status.PaidCallsAllowed {
		tier = params.Topic.DigestMode
		if tier == "" {
			tier = core.TierNormal
		}
	}
	result := Result{Tier: tier}

	ingestResult, err := ingest.Run(ctx, gw, fetcher, ingest.Params{
		UserID:            params.Topic.UserID,
		TopicID:           params.Topic.ID,
		WindowStart:       params.WindowStart,
		WindowEnd:         params.WindowEnd,
		MaxItemsPerSource: params.MaxItemsPerSource,
		PaidCallsAllowed:  status.PaidCallsAllowed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	result.Ingest = ingestResult

	embedResult, err := embed.Run(ctx, gw, router, embed.Params{
		UserID:      params.Topic.UserID,
		TopicID:     params.Topic.ID,
		WindowStart: &params.WindowStart,
		WindowEnd:   &params.WindowEnd,
		Tier:          llm.Tier(tier),
		Model:         params.EmbedModel,
		Dims:          params.EmbedDims,
		BatchSize:     32,
		MaxInputChars: 4000,
	})
	if err != nil {
		return Result{}, fmt.Errorf("embed: %w", err)
	}
	result.Embed = embedResult

	dedupeResult, err := dedupe.Run(ctx, gw, dedupe.Params{
		UserID: params.Topic.UserID, TopicID: params.Topic.ID,
		WindowStart: params.WindowStart, WindowEnd: params.WindowEnd,
	})
	if err != nil {
		return Result{}, fmt.Errorf("dedupe: %w", err)
	}
	result.Dedupe = dedupeResult

	clusterResult, err := cluster.Run(ctx, gw, cluster.Params{
		UserID: params.Topic.UserID, TopicID: params.Topic.ID,
		WindowStart: params.WindowStart, WindowEnd: params.WindowEnd, UpdateCentroid: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("cluster: %w", err)
	}
	result.Cluster = clusterResult

	if !status.PaidCallsAllowed {
		logger.Info("digest stage skipped: paid calls not allowed", "topic_id", params.Topic.ID, "warning_level", string(status.WarningLevel))
		result.DigestSkippedDueToCredits = true
		if err := gw.Topics().AdvanceCursor(ctx, params.Topic.ID, params.WindowEnd); err != nil {
			return Result{}, fmt.Errorf("advance cursor: %w", err)
		}
		return result, nil
	}

	digestResult, err := runDigest(ctx, gw, router, params, tier)
	if err != nil {
		return Result{}, fmt.Errorf("digest: %w", err)
	}
	result.Digest = digestResult

	if err := gw.Topics().AdvanceCursor(ctx, params.Topic.ID, params.WindowEnd); err != nil {
		return Result{}, fmt.Errorf("advance cursor: %w", err)
	}
	return result, nil
}

func runDigest(ctx context.Context, gw storage.Gateway, router *llm.TracedRouter, params Params, tier core.Tier) (*core.Digest, error) {
	assembled, err := candidates.Run(ctx, gw, candidates.Params{
		UserID: params.Topic.UserID, TopicID: params.Topic.ID,
		WindowStart: params.WindowStart, WindowEnd: params.WindowEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble candidates: %w", err)
	}

	pool, _ := fairsample.Sample(assembled.Candidates, params.WindowStart, params.WindowEnd, params.MaxPoolSize)

	noveltyScores, err := novelty.Run(ctx, gw, pool, novelty.Params{
		UserID: params.Topic.UserID, TopicID: params.Topic.ID,
		WindowStart: params.WindowStart, Model: params.EmbedModel, Dims: params.EmbedDims,
		LookbackDays: params.NoveltyLookbackDays,
	})
	if err != nil {
		return nil, fmt.Errorf("score novelty: %w", err)
	}

	var signalHashes map[string]bool
	if params.EnableSignalCorroboration {
		signalHashes, err = signal.BuildHashSet(ctx, gw, signal.Params{
			UserID: params.Topic.UserID, TopicID: params.Topic.ID,
			WindowStart: params.WindowStart, WindowEnd: params.WindowEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("build signal corroboration set: %w", err)
		}
	}

	allocated := triagealloc.Allocate(pool, params.MaxTriageCalls, params.ExplorationFraction)
	annotated, err := triage.Run(ctx, gw, router, allocated, triage.Params{
		UserID: params.Topic.UserID, Tier: llm.Tier(tier),
		WindowStart: params.WindowStart.UTC().Format("2006-01-02T15:04:05Z"),
		WindowEnd:   params.WindowEnd.UTC().Format("2006-01-02T15:04:05Z"),
	})
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}

	poolIndex := make(map[int]int, len(pool))
	for i := range allocated {
		poolIndex[i] = indexOf(pool, allocated[i])
	}

	prefs, err := derivePreferences(ctx, gw, params.Topic.UserID, params.Topic.ID, params.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("derive preferences: %w", err)
	}

	inputs := make([]rank.Input, len(annotated))
	for i, a := range annotated {
		idx := poolIndex[i]
		var matched bool
		if signalHashes != nil {
			matched = signal.Matched(a.Candidate, signalHashes)
		}
		inputs[i] = rank.Input{
			Annotated:     a,
			Novelty:       noveltyScores[idx],
			SignalMatched: matched,
		}
	}

	weights := rank.DefaultWeights()
	if params.EnableSignalCorroboration {
		weights.Signal = params.SignalWeight
	}
	ranked := rank.Run(inputs, prefs, params.Topic.DecayHours, params.WindowEnd, weights)

	selected, _ := diversity.Select(ranked, params.MaxDigestItems, 0, 0, true)

	summaries, err := enrich.Run(ctx, gw, router, selected, enrich.Params{
		UserID: params.Topic.UserID, Tier: llm.Tier(tier), MaxDeep: params.MaxDeepSummaries,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich: %w", err)
	}

	return digestwriter.Write(ctx, gw, selected, summaries, digestwriter.Params{
		UserID: params.Topic.UserID, TopicID: params.Topic.ID,
		WindowStart: params.WindowStart, WindowEnd: params.WindowEnd, Mode: tier,
	})
}

// indexOf finds c's position in pool by stable identity (cluster id or
// content item id), since allocation copies Candidate by value.
func indexOf(pool []candidates.Candidate, c candidates.Candidate) int {
	for i, p := range pool {
		if p.ClusterID != nil && c.ClusterID != nil && *p.ClusterID == *c.ClusterID {
			return i
		}
		if p.ContentItemID != nil && c.ContentItemID != nil && *p.ContentItemID == *c.ContentItemID {
			return i
		}
	}
	return -1
}

// derivePreferences builds the sourceTypeWeight/authorWeight maps from
// recent feedback, clamped to [0.5, 2.0]. Each like nudges the weight
// up and each dislike nudges it down; not specified further by the
// external interface contract beyond "derived from recent feedback".
func derivePreferences(ctx context.Context, gw storage.Gateway, userID, topicID string, windowStart time.Time) (rank.Preferences, error) {
	const lookbackDays = 30
	events, err := gw.Feedback().ListRecent(ctx, userID, topicID, windowStart.Add(-lookbackDays*24*time.Hour))
	if err != nil {
		return rank.Preferences{}, fmt.Errorf("list recent feedback: %w", err)
	}

	typeDelta := make(map[string]float64)
	authorDelta := make(map[string]float64)
	for _, ev := range events {
		item, err := gw.ContentItems().Get(ctx, ev.ContentItemID)
		if err != nil || item == nil {
			continue
		}
		delta := feedbackDelta(ev.Action)
		typeDelta[item.SourceType] += delta
		if item.Author != "" {
			authorDelta[item.Author] += delta
		}
	}

	return rank.Preferences{
		SourceTypeWeight: weighMap(typeDelta),
		AuthorWeight:     weighMap(authorDelta),
	}, nil
}

func feedbackDelta(action core.FeedbackAction) float64 {
	switch action {
	case core.FeedbackLike, core.FeedbackSave:
		return 0.15
	case core.FeedbackDislike:
		return -0.15
	default:
		return 0
	}
}

func weighMap(delta map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(delta))
	for k, d := range delta {
		v := 1 + d
		if v < 0.5 {
			v = 0.5
		}
		if v > 2.0 {
			v = 2.0
		}
		out[k] = v
	}
	return out
}
