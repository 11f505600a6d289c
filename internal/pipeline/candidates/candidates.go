// Package candidates assembles the pool of digest candidates for one
// (user, topic, window): clusters with an in-window member, and
// unclustered in-window items, each annotated with a heuristic
// recency/engagement score and a similarity to the topic's learned
// preference vectors. Grounded on the teacher's internal/quality
// feature-scoring shape (precompute normalized sub-scores, combine with
// fixed weights) generalized to the cluster-or-item candidate union
// spec.md §4.7 describes.
package candidates

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Kind distinguishes a cluster candidate from a lone-item candidate.
type Kind string

const (
	KindCluster Kind = "cluster"
	KindItem    Kind = "item"
)

// Candidate is one digest-eligible unit: a story cluster or an
// unclustered item.
type Candidate struct {
	Kind          Kind
	ClusterID     *string
	ContentItemID *string
	MemberSources []string // distinct source ids contributing to a cluster candidate
	SourceType    string
	SourceID      string
	SourceName    string
	Author        string
	Title         *string
	BodySnippet   string
	PrimaryURL    *string
	CandidateAt   time.Time
	Vector        []float64

	Recency01      float64
	EngagementRaw  float64
	Engagement01   float64
	HeuristicScore float64
	PositiveSim    *float64
	NegativeSim    *float64
}

// Params bounds one Candidate Assembly invocation.
type Params struct {
	UserID      string
	TopicID     string
	WindowStart time.Time
	WindowEnd   time.Time
}

// Result is the assembled candidate pool.
type Result struct {
	Candidates []Candidate
}

// Run executes candidate assembly, per spec.md §4.7.
func Run(ctx context.Context, gw storage.Gateway, params Params) (Result, error) {
	clusterIDs, err := gw.ClusterItems().ListClustersWithMembersInWindow(ctx, params.UserID, params.TopicID, params.WindowStart, params.WindowEnd)
	if err != nil {
		return Result{}, fmt.Errorf("list in-window clusters: %w", err)
	}

	var out []Candidate
	seenClustered := make(map[string]bool)

	for _, clusterID := range clusterIDs {
		members, err := gw.ClusterItems().ListMembersInWindow(ctx, clusterID, params.WindowStart, params.WindowEnd)
		if err != nil {
			return Result{}, fmt.Errorf("list members of cluster %s: %w", clusterID, err)
		}
		if len(members) == 0 {
			continue
		}
		for _, m := range members {
			seenClustered[m.ID] = true
		}
		cluster, err := gw.Clusters().Get(ctx, clusterID)
		if err != nil {
			return Result{}, fmt.Errorf("get cluster %s: %w", clusterID, err)
		}
		if cluster == nil {
			continue
		}

		representative := representativeMember(members)
		out = append(out, Candidate{
			Kind:          KindCluster,
			ClusterID:     &clusterID,
			MemberSources: distinctSourceIDs(members),
			SourceType:    representative.SourceType,
			SourceID:      representative.SourceID,
			Author:        representative.Author,
			Title:         titleOrNil(representative),
			BodySnippet:   snippet(representative.BodyText),
			PrimaryURL:    representative.CanonicalURL,
			CandidateAt:   representative.PublishedAt,
			Vector:        cluster.CentroidVector,
			EngagementRaw: engagementRaw(representative),
		})
	}

	items, err := gw.ContentItems().ListWindow(ctx, storage.WindowQuery{
		UserID:      params.UserID,
		TopicID:     params.TopicID,
		WindowStart: params.WindowStart,
		WindowEnd:   params.WindowEnd,
	})
	if err != nil {
		return Result{}, fmt.Errorf("list window items: %w", err)
	}
	for _, item := range items {
		if item.IsDuplicate() || item.IsDeleted() || isSignalBundle(item) || seenClustered[item.ID] {
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
		itemID := item.ID
		out = append(out, Candidate{
			Kind:          KindItem,
			ContentItemID: &itemID,
			SourceType:    item.SourceType,
			SourceID:      item.SourceID,
			Author:        item.Author,
			Title:         titleOrNil(item),
			BodySnippet:   snippet(item.BodyText),
			PrimaryURL:    item.CanonicalURL,
			CandidateAt:   item.PublishedAt,
			Vector:        embedding.Vector,
			EngagementRaw: engagementRaw(item),
		})
	}

	annotate(out, params.WindowStart, params.WindowEnd)

	profile, err := gw.Preferences().Get(ctx, params.UserID, params.TopicID)
	if err != nil {
		return Result{}, fmt.Errorf("get preference profile: %w", err)
	}
	if profile != nil {
		for i := range out {
			out[i].PositiveSim = cosineSimPtr(out[i].Vector, profile.PositiveVector)
			out[i].NegativeSim = cosineSimPtr(out[i].Vector, profile.NegativeVector)
		}
	}

	return Result{Candidates: out}, nil
}

// annotate fills recency01, engagement01 (normalized across the pool),
// and heuristicScore for every candidate in place.
func annotate(pool []Candidate, windowStart, windowEnd time.Time) {
	span := windowEnd.Sub(windowStart).Seconds()
	maxRaw := 0.0
	for i := range pool {
		if pool[i].EngagementRaw > maxRaw {
			maxRaw = pool[i].EngagementRaw
		}
	}
	for i := range pool {
		age := windowEnd.Sub(pool[i].CandidateAt).Seconds()
		recency := 1.0
		if span > 0 {
			recency = clamp01(1 - age/span)
		}
		engagement01 := 0.0
		if maxRaw > 0 {
			engagement01 = pool[i].EngagementRaw / maxRaw
		}
		pool[i].Recency01 = recency
		pool[i].Engagement01 = engagement01
		pool[i].HeuristicScore = 0.6*recency + 0.4*engagement01
	}
}

func representativeMember(members []core.ContentItem) core.ContentItem {
	for _, m := range members {
		if m.Title != "" {
			return m
		}
	}
	best := members[0]
	for _, m := range members[1:] {
		if m.PublishedAt.After(best.PublishedAt) {
			best = m
		}
	}
	return best
}

func distinctSourceIDs(members []core.ContentItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range members {
		if !seen[m.SourceID] {
			seen[m.SourceID] = true
			out = append(out, m.SourceID)
		}
	}
	return out
}

func titleOrNil(item core.ContentItem) *string {
	if item.Title == "" {
		return nil
	}
	title := item.Title
	return &title
}

func snippet(body string) string {
	const maxLen = 280
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen]
}

// engagementRaw implements spec.md §4.7's engagement formula, reading
// score/ups and num_comments/comment_count from item metadata.
func engagementRaw(item core.ContentItem) float64 {
	score := numericMetadata(item.Metadata, "score", "ups")
	comments := numericMetadata(item.Metadata, "num_comments", "comment_count")
	return math.Log1p(math.Max(0, score)) + 0.25*math.Log1p(math.Max(0, comments))
}

func numericMetadata(meta map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := meta[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return 0
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

func cosineSimPtr(a, b []float64) *float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return nil
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return nil
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return &sim
}

func isSignalBundle(item core.ContentItem) bool {
	return item.SourceType == "signal" && item.CanonicalURL == nil
}
