// Package dedupe marks near-duplicate content items by comparing each
// in-window candidate's embedding against its single nearest older
// neighbor within a lookback window. Grounded on the teacher's
// nearest-neighbor threshold pattern in internal/relevance (cosine
// similarity against a fixed cutoff, high threshold favoring precision
// over recall).
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Params bounds one Dedupe invocation.
type Params struct {
	UserID              string
	TopicID             string
	WindowStart         time.Time
	WindowEnd           time.Time
	MaxItems            int
	LookbackDays        int
	SimilarityThreshold float64
}

// DefaultParams fills in the documented defaults for the fields a
// caller leaves zero-valued.
func DefaultParams(p Params) Params {
	if p.MaxItems <= 0 {
		p.MaxItems = 500
	}
	if p.LookbackDays <= 0 {
		p.LookbackDays = 30
	}
	if p.SimilarityThreshold <= 0 {
		p.SimilarityThreshold = 0.995
	}
	return p
}

// Result is the aggregate outcome of one Dedupe invocation.
type Result struct {
	Attempted int
	Matches   int
	Deduped   int
}

// Run executes the dedupe protocol, per spec.md §4.5.
func Run(ctx context.Context, gw storage.Gateway, params Params) (Result, error) {
	params = DefaultParams(params)

	candidates, err := gw.ContentItems().ListWindow(ctx, storage.WindowQuery{
		UserID:      params.UserID,
		TopicID:     params.TopicID,
		WindowStart: params.WindowStart,
		WindowEnd:   params.WindowEnd,
		MaxItems:    params.MaxItems,
	})
	if err != nil {
		return Result{}, fmt.Errorf("list window candidates: %w", err)
	}

	result := Result{}
	lookback := time.Duration(params.LookbackDays) * 24 * time.Hour

	for _, item := range candidates {
		if item.IsDuplicate() || isSignalBundle(item) {
			continue
		}
		embedding, err := gw.Embeddings().Get(ctx, item.ID)
		if err != nil {
			return Result{}, fmt.Errorf("get embedding for %s: %w", item.ID, err)
		}
		if embedding == nil {
			continue
		}

		result.Attempted++
		after := item.PublishedAt.Add(-lookback)
		neighbor, err := gw.Embeddings().NearestOlder(ctx, storage.NeighborQuery{
			UserID:               params.UserID,
			TopicID:              params.TopicID,
			Vector:               embedding.Vector,
			Model:                embedding.Model,
			Dims:                 embedding.Dims,
			ExcludeItemID:        item.ID,
			Before:               &item.PublishedAt,
			After:                &after,
			ExcludeDuplicates:    true,
			ExcludeSignalBundles: true,
		})
		if err != nil {
			return Result{}, fmt.Errorf("nearest older neighbor for %s: %w", item.ID, err)
		}
		if neighbor == nil {
			continue
		}

		result.Matches++
		if neighbor.Similarity >= params.SimilarityThreshold {
			if err := gw.ContentItems().MarkDuplicate(ctx, item.ID, neighbor.ContentItemID); err != nil {
				return Result{}, fmt.Errorf("mark duplicate for %s: %w", item.ID, err)
			}
			result.Deduped++
		}
	}

	return result, nil
}

func isSignalBundle(item core.ContentItem) bool {
	return item.SourceType == "signal" && item.CanonicalURL == nil
}
