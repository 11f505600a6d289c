package candidates

import (
	"context"
	"testing"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

type fakeGateway struct {
	storage.Gateway
	contentItems fakeContentItemRepo
	embeddings   fakeEmbeddingRepo
	clusters     fakeClusterRepo
	clusterItems fakeClusterItemRepo
	preferences  fakePreferenceRepo
}

func (g *fakeGateway) ContentItems() storage.ContentItemRepo { return &g.contentItems }
func (g *fakeGateway) Embeddings() storage.EmbeddingRepo     { return &g.embeddings }
func (g *fakeGateway) Clusters() storage.ClusterRepo         { return &g.clusters }
func (g *fakeGateway) ClusterItems() storage.ClusterItemRepo { return &g.clusterItems }
func (g *fakeGateway) Preferences() storage.PreferenceRepo   { return &g.preferences }

type fakeContentItemRepo struct {
	storage.ContentItemRepo
	items     []core.ContentItem
	clustered map[string]bool
}

func (r *fakeContentItemRepo) ListWindow(ctx context.Context, q storage.WindowQuery) ([]core.ContentItem, error) {
	return r.items, nil
}

func (r *fakeContentItemRepo) IsClustered(ctx context.Context, itemID string) (bool, error) {
	return r.clustered[itemID], nil
}

type fakeEmbeddingRepo struct {
	storage.EmbeddingRepo
	byItem map[string]*core.Embedding
}

func (r *fakeEmbeddingRepo) Get(ctx context.Context, contentItemID string) (*core.Embedding, error) {
	return r.byItem[contentItemID], nil
}

type fakeClusterRepo struct {
	byID map[string]*core.Cluster
}

func (r *fakeClusterRepo) Get(ctx context.Context, id string) (*core.Cluster, error) { return r.byID[id], nil }
func (r *fakeClusterRepo) FindNearestHot(ctx context.Context, userID string, vector []float64, updatedAfter time.Time) (*core.Cluster, int, float64, error) {
	return nil, 0, 0, nil
}
func (r *fakeClusterRepo) Create(ctx context.Context, userID, representativeItemID string, vector []float64) (*core.Cluster, error) {
	return nil, nil
}
func (r *fakeClusterRepo) UpdateCentroid(ctx context.Context, clusterID string, vector []float64, representativeItemID *string) error {
	return nil
}

type fakeClusterItemRepo struct {
	clusterIDs []string
	members    map[string][]core.ContentItem
}

func (r *fakeClusterItemRepo) Insert(ctx context.Context, clusterID, contentItemID string, similarity float64) error {
	return nil
}
func (r *fakeClusterItemRepo) ListMembersInWindow(ctx context.Context, clusterID string, start, end time.Time) ([]core.ContentItem, error) {
	return r.members[clusterID], nil
}
func (r *fakeClusterItemRepo) ListClustersWithMembersInWindow(ctx context.Context, userID, topicID string, start, end time.Time) ([]string, error) {
	return r.clusterIDs, nil
}

type fakePreferenceRepo struct {
	storage.PreferenceRepo
	profile *core.TopicPreferenceProfile
}

func (r *fakePreferenceRepo) Get(ctx context.Context, userID, topicID string) (*core.TopicPreferenceProfile, error) {
	return r.profile, nil
}

func TestRunAssemblesItemCandidate(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{items: []core.ContentItem{
			{ID: "i1", SourceType: "rss", SourceID: "s1", Title: "hello", PublishedAt: now},
		}},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{1, 0}}}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowStart: now.Add(-time.Hour), WindowEnd: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Kind != KindItem {
		t.Fatalf("expected 1 item candidate, got %+v", result.Candidates)
	}
	if result.Candidates[0].Recency01 != 1 {
		t.Errorf("expected a candidate at windowEnd to have recency01=1, got %v", result.Candidates[0].Recency01)
	}
}

func TestRunSkipsClusteredItemsFromItemPool(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{
			items:     []core.ContentItem{{ID: "i1", PublishedAt: now}},
			clustered: map[string]bool{"i1": true},
		},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{1, 0}}}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowStart: now.Add(-time.Hour), WindowEnd: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("expected clustered items excluded from the item pool, got %+v", result.Candidates)
	}
}

func TestRunAssemblesClusterCandidateWithRepresentative(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		clusterItems: fakeClusterItemRepo{
			clusterIDs: []string{"c1"},
			members: map[string][]core.ContentItem{"c1": {
				{ID: "m1", SourceID: "s1", Title: "", PublishedAt: now.Add(-time.Minute)},
				{ID: "m2", SourceID: "s2", Title: "titled", PublishedAt: now},
			}},
		},
		clusters: fakeClusterRepo{byID: map[string]*core.Cluster{"c1": {ID: "c1", CentroidVector: []float64{0.5, 0.5}}}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowStart: now.Add(-time.Hour), WindowEnd: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Kind != KindCluster {
		t.Fatalf("expected 1 cluster candidate, got %+v", result.Candidates)
	}
	if result.Candidates[0].Title == nil || *result.Candidates[0].Title != "titled" {
		t.Errorf("expected the titled member to be the representative, got %+v", result.Candidates[0].Title)
	}
	if len(result.Candidates[0].MemberSources) != 2 {
		t.Errorf("expected 2 distinct member sources, got %v", result.Candidates[0].MemberSources)
	}
}

func TestRunExcludesSignalBundlesFromItemPool(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{items: []core.ContentItem{
			{ID: "i1", SourceType: "signal", CanonicalURL: nil, PublishedAt: now},
		}},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{1, 0}}}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowStart: now.Add(-time.Hour), WindowEnd: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("expected signal bundles excluded, got %+v", result.Candidates)
	}
}

func TestRunComputesPreferenceSimilarity(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{items: []core.ContentItem{
			{ID: "i1", PublishedAt: now},
		}},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{1, 0}}}},
		preferences: fakePreferenceRepo{profile: &core.TopicPreferenceProfile{
			PositiveVector: []float64{1, 0},
			NegativeVector: []float64{0, 1},
		}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowStart: now.Add(-time.Hour), WindowEnd: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := result.Candidates[0]
	if c.PositiveSim == nil || *c.PositiveSim < 0.99 {
		t.Errorf("expected positiveSim near 1, got %v", c.PositiveSim)
	}
	if c.NegativeSim == nil || *c.NegativeSim > 0.01 {
		t.Errorf("expected negativeSim near 0, got %v", c.NegativeSim)
	}
}
