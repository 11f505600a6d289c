// Package novelty scores how unlike a candidate is compared to recent
// topic history, by nearest-neighbor lookup against a lookback window
// strictly before the current window. Grounded on the same
// nearest-neighbor idiom as internal/pipeline/dedupe, inverted: a low
// similarity to history is novelty, not a duplicate signal.
package novelty

import (
	"context"
	"fmt"
	"time"

	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// DefaultLookbackDays is the documented default lookback window.
const DefaultLookbackDays = 30

// Score is the novelty result for one candidate.
type Score struct {
	MaxSimilarity float64
	Novelty01     float64
}

// Params bounds one Novelty invocation.
type Params struct {
	UserID       string
	TopicID      string
	WindowStart  time.Time
	Model        string
	Dims         int
	LookbackDays int
}

// Run scores every candidate with a vector, per spec.md §4.12.
// Candidates without a vector (shouldn't occur downstream of Candidate
// Assembly, but defensively handled) score Novelty01=0.
func Run(ctx context.Context, gw storage.Gateway, pool []candidates.Candidate, params Params) (map[int]Score, error) {
	lookbackDays := params.LookbackDays
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	lookbackStart := params.WindowStart.Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	scores := make(map[int]Score, len(pool))
	for i, c := range pool {
		if len(c.Vector) == 0 {
			scores[i] = Score{}
			continue
		}
		neighbor, err := gw.Embeddings().NearestBeforeWindow(ctx, storage.NeighborQuery{
			UserID:  params.UserID,
			TopicID: params.TopicID,
			Vector:  c.Vector,
			Model:   params.Model,
			Dims:    params.Dims,
			Before:  &params.WindowStart,
			After:   &lookbackStart,
		})
		if err != nil {
			return nil, fmt.Errorf("nearest neighbor before window for candidate %d: %w", i, err)
		}
		maxSim := 0.0
		if neighbor != nil {
			maxSim = neighbor.Similarity
		}
		scores[i] = Score{MaxSimilarity: maxSim, Novelty01: clamp01(1 - maxSim)}
	}
	return scores, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
