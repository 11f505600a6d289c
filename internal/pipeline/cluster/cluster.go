// Package cluster groups related content items into running-centroid
// story clusters. Grounded on the teacher's internal/clustering
// nearest-centroid-then-update shape, generalized from its batch HDBSCAN
// pass to the streaming single-pass assignment spec.md §4.6 describes.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Params bounds one Cluster invocation.
type Params struct {
	UserID              string
	TopicID             string
	WindowStart         time.Time
	WindowEnd           time.Time
	MaxItems            int
	ClusterLookbackDays int
	SimilarityThreshold float64
	UpdateCentroid      bool
}

// DefaultParams fills in the documented defaults for the fields a
// caller leaves zero-valued. UpdateCentroid is left as the caller set
// it; since its zero value is false, callers that want centroid updates
// set it to true.
func DefaultParams(p Params) Params {
	if p.MaxItems <= 0 {
		p.MaxItems = 500
	}
	if p.ClusterLookbackDays <= 0 {
		p.ClusterLookbackDays = 7
	}
	if p.SimilarityThreshold <= 0 {
		p.SimilarityThreshold = 0.86
	}
	return p
}

// Result is the aggregate outcome of one Cluster invocation.
type Result struct {
	Attempted int
	Created   int
	Joined    int
}

// Run executes the cluster protocol, per spec.md §4.6.
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
	lookbackFloor := params.WindowEnd.Add(-time.Duration(params.ClusterLookbackDays) * 24 * time.Hour)

	for _, item := range candidates {
		if item.IsDuplicate() || isSignalBundle(item) {
			continue
		}
		clustered, err := gw.ContentItems().IsClustered(ctx, item.ID)
		if err != nil {
			return Result{}, fmt.Errorf("check clustered state for %s: %w", item.ID, err)
		}
		if clustered {
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
		nearest, count, similarity, err := gw.Clusters().FindNearestHot(ctx, params.UserID, embedding.Vector, lookbackFloor)
		if err != nil {
			return Result{}, fmt.Errorf("find nearest hot cluster for %s: %w", item.ID, err)
		}

		if nearest == nil || similarity < params.SimilarityThreshold {
			if _, err := gw.Clusters().Create(ctx, params.UserID, item.ID, embedding.Vector); err != nil {
				return Result{}, fmt.Errorf("create cluster for %s: %w", item.ID, err)
			}
			result.Created++
			continue
		}

		if err := gw.ClusterItems().Insert(ctx, nearest.ID, item.ID, similarity); err != nil {
			return Result{}, fmt.Errorf("insert cluster member %s: %w", item.ID, err)
		}

		var representative *string
		if nearest.RepresentativeContentItem == nil {
			itemID := item.ID
			representative = &itemID
		}
		centroid := nearest.CentroidVector
		if params.UpdateCentroid {
			centroid = runningMean(nearest.CentroidVector, embedding.Vector, count)
		}
		if params.UpdateCentroid || representative != nil {
			if err := gw.Clusters().UpdateCentroid(ctx, nearest.ID, centroid, representative); err != nil {
				return Result{}, fmt.Errorf("update cluster centroid %s: %w", nearest.ID, err)
			}
		}
		result.Joined++
	}

	return result, nil
}

// runningMean folds itemVector into a centroid that already averages n
// members, per spec.md §4.6: centroid' = (centroid*n + itemVector)/(n+1).
func runningMean(centroid, itemVector []float64, n int) []float64 {
	out := make([]float64, len(centroid))
	for i := range centroid {
		out[i] = (centroid[i]*float64(n) + itemVector[i]) / float64(n+1)
	}
	return out
}

func isSignalBundle(item core.ContentItem) bool {
	return item.SourceType == "signal" && item.CanonicalURL == nil
}
