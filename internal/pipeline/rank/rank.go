// Package rank implements the composite ranking formula (spec.md
// §4.11): a weighted blend of the triage score (or heuristic fallback),
// preference similarity, signal corroboration, and novelty, scaled by
// source/type/author weights and an optional recency decay. Grounded on
// internal/quality's weighted-feature-combination shape, generalized
// from a single relevance score into the full explainable composite
// spec.md describes.
package rank

import (
	"math"
	"sort"
	"time"

	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/pipeline/novelty"
	"github.com/lamosty/aharadar-go/internal/pipeline/triage"
)

// Weights are the default composite weights named in spec.md §4.11.
type Weights struct {
	Aha       float64
	Heuristic float64
	Pref      float64
	Signal    float64
	Novelty   float64
}

// DefaultWeights matches the documented defaults.
func DefaultWeights() Weights {
	return Weights{Aha: 0.8, Heuristic: 0.15, Pref: 0.15, Signal: 0, Novelty: 0.05}
}

// Preferences holds the learned per-(sourceType, author) weight maps
// derived from recent feedback, each clamped to [0.5, 2.0].
type Preferences struct {
	SourceTypeWeight map[string]float64
	AuthorWeight     map[string]float64
}

// Input is everything Score needs for one candidate beyond the raw
// Candidate/Triage/Novelty data: per-candidate extras not carried on
// those types.
type Input struct {
	Annotated             triage.Annotated
	Novelty               novelty.Score
	SignalMatched         bool
	SourceTypeCalibration float64 // typeWeight, default 1 when absent
	SourceWeight          float64 // source.weight, default 1 when absent
}

// Ranked is one scored candidate with its full explainability block.
type Ranked struct {
	Candidate     candidates.Candidate
	Score         float64
	TriageJSON    map[string]any
	HasTriageData bool
}

// Run scores and sorts inputs per spec.md §4.11's formula and sort
// order (score desc, candidateAt desc, candidateId asc). windowEnd is
// the reference instant ageHours is measured against.
func Run(inputs []Input, prefs Preferences, decayHours *float64, windowEnd time.Time, weights Weights) []Ranked {
	out := make([]Ranked, len(inputs))
	for i, in := range inputs {
		out[i] = score(in, prefs, decayHours, windowEnd, weights)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Candidate.CandidateAt.Equal(out[j].Candidate.CandidateAt) {
			return out[i].Candidate.CandidateAt.After(out[j].Candidate.CandidateAt)
		}
		return candidateID(out[i].Candidate) < candidateID(out[j].Candidate)
	})
	return out
}

func score(in Input, prefs Preferences, decayHours *float64, windowEnd time.Time, w Weights) Ranked {
	c := in.Annotated.Candidate
	hasTriage := in.Annotated.Triage != nil

	var aha01 float64
	if hasTriage {
		aha01 = in.Annotated.Triage.AIScore / 100
	} else {
		aha01 = c.HeuristicScore
	}

	pref := valueOr(c.PositiveSim, 0) - valueOr(c.NegativeSim, 0)

	signal01 := 0.0
	if in.SignalMatched {
		signal01 = 1
	}
	novelty01 := in.Novelty.Novelty01

	typeWeight := in.SourceTypeCalibration
	if typeWeight == 0 {
		typeWeight = 1
	}
	sourceWeight := in.SourceWeight
	if sourceWeight == 0 {
		sourceWeight = 1
	}
	sourceEffective := clamp(0.1, 3.0, typeWeight*sourceWeight)

	sourceTypeWeight := lookupOr(prefs.SourceTypeWeight, c.SourceType, 1)
	authorWeight := lookupOr(prefs.AuthorWeight, c.Author, 1)
	userPref := clamp(0.5, 2.0, sourceTypeWeight*authorWeight)

	decay := 1.0
	if decayHours != nil && *decayHours > 0 {
		ageHours := windowEnd.Sub(c.CandidateAt).Hours()
		decay = math.Exp(-ageHours / *decayHours)
	}

	var base float64
	if hasTriage {
		base = w.Aha*aha01 + w.Heuristic*c.HeuristicScore + w.Pref*pref
	} else {
		base = c.HeuristicScore + w.Pref*pref
	}
	preWeight := base + w.Signal*signal01 + w.Novelty*novelty01
	finalScore := preWeight * sourceEffective * userPref * decay

	triageJSON := map[string]any{}
	if hasTriage {
		t := in.Annotated.Triage
		triageJSON["schema_version"] = t.SchemaVersion
		triageJSON["prompt_id"] = t.PromptID
		triageJSON["provider"] = t.Provider
		triageJSON["model"] = t.Model
		triageJSON["ai_score"] = t.AIScore
		triageJSON["reason"] = t.Reason
		triageJSON["is_relevant"] = t.IsRelevant
		triageJSON["is_novel"] = t.IsNovel
		triageJSON["categories"] = t.Categories
		triageJSON["should_deep_summarize"] = t.ShouldDeepSummarize
		triageJSON["topic"] = t.Topic
		triageJSON["one_liner"] = t.OneLiner
	}
	triageJSON["system_features"] = map[string]any{
		"signal_corroboration_v1": map[string]any{"matched": in.SignalMatched, "value": signal01},
		"novelty_v1":              map[string]any{"novelty01": novelty01, "max_similarity": in.Novelty.MaxSimilarity},
		"source_weight_v1":        map[string]any{"type_weight": typeWeight, "source_weight": sourceWeight, "effective": sourceEffective},
		"user_preference_v1":      map[string]any{"source_type_weight": sourceTypeWeight, "author_weight": authorWeight, "effective": userPref},
		"recency_decay_v1":        map[string]any{"decay_hours": decayHours, "decay": decay},
		"source_calibration_v1":   map[string]any{"applied": false},
		"score_debug_v1": map[string]any{
			"weights":     w,
			"aha01":       aha01,
			"heuristic":   c.HeuristicScore,
			"pref":        pref,
			"base":        base,
			"pre_weight":  preWeight,
			"final_score": finalScore,
		},
	}

	return Ranked{Candidate: c, Score: finalScore, TriageJSON: triageJSON, HasTriageData: hasTriage}
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func lookupOr(m map[string]float64, key string, def float64) float64 {
	if m == nil {
		return def
	}
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func candidateID(c candidates.Candidate) string {
	if c.ClusterID != nil {
		return *c.ClusterID
	}
	if c.ContentItemID != nil {
		return *c.ContentItemID
	}
	return ""
}
