package cluster

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
}

func (g *fakeGateway) ContentItems() storage.ContentItemRepo { return &g.contentItems }
func (g *fakeGateway) Embeddings() storage.EmbeddingRepo     { return &g.embeddings }
func (g *fakeGateway) Clusters() storage.ClusterRepo         { return &g.clusters }
func (g *fakeGateway) ClusterItems() storage.ClusterItemRepo { return &g.clusterItems }

type fakeContentItemRepo struct {
	storage.ContentItemRepo
	candidates []core.ContentItem
	clustered  map[string]bool
}

func (r *fakeContentItemRepo) ListWindow(ctx context.Context, q storage.WindowQuery) ([]core.ContentItem, error) {
	return r.candidates, nil
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
	nearest        *core.Cluster
	nearestCount   int
	nearestSim     float64
	created        []core.Cluster
	centroids      map[string][]float64
	representative map[string]*string
}

func (r *fakeClusterRepo) FindNearestHot(ctx context.Context, userID string, vector []float64, updatedAfter time.Time) (*core.Cluster, int, float64, error) {
	return r.nearest, r.nearestCount, r.nearestSim, nil
}

func (r *fakeClusterRepo) Create(ctx context.Context, userID string, representativeItemID string, vector []float64) (*core.Cluster, error) {
	c := core.Cluster{ID: core.NewID(), UserID: userID, RepresentativeContentItem: &representativeItemID, CentroidVector: vector}
	r.created = append(r.created, c)
	return &c, nil
}

func (r *fakeClusterRepo) UpdateCentroid(ctx context.Context, clusterID string, vector []float64, representativeItemID *string) error {
	if r.centroids == nil {
		r.centroids = make(map[string][]float64)
	}
	r.centroids[clusterID] = vector
	if representativeItemID != nil {
		if r.representative == nil {
			r.representative = make(map[string]*string)
		}
		r.representative[clusterID] = representativeItemID
	}
	return nil
}

func (r *fakeClusterRepo) Get(ctx context.Context, id string) (*core.Cluster, error) { return nil, nil }

type fakeClusterItemRepo struct {
	storage.ClusterItemRepo
	inserted []core.ClusterItem
}

func (r *fakeClusterItemRepo) Insert(ctx context.Context, clusterID, contentItemID string, similarity float64) error {
	r.inserted = append(r.inserted, core.ClusterItem{ClusterID: clusterID, ContentItemID: contentItemID, Similarity: similarity})
	return nil
}

func TestRunCreatesNewClusterWhenNoneNearby(t *testing.T) {
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{{ID: "i1"}}},
		embeddings:   fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{1, 0}}}},
		clusters:     fakeClusterRepo{nearest: nil},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowEnd: time.Now()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Created != 1 || result.Joined != 0 {
		t.Errorf("expected a new cluster created, got %+v", result)
	}
	if len(gw.clusters.created) != 1 {
		t.Errorf("expected gateway to record 1 created cluster, got %d", len(gw.clusters.created))
	}
}

func TestRunJoinsExistingClusterAboveThreshold(t *testing.T) {
	existing := core.Cluster{ID: "c1", RepresentativeContentItem: strPtr("rep"), CentroidVector: []float64{1, 0}}
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{{ID: "i1"}}},
		embeddings:   fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{0.9, 0.1}}}},
		clusters:     fakeClusterRepo{nearest: &existing, nearestCount: 2, nearestSim: 0.9},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowEnd: time.Now(), UpdateCentroid: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Joined != 1 || result.Created != 0 {
		t.Errorf("expected item joined to existing cluster, got %+v", result)
	}
	if len(gw.clusterItems.inserted) != 1 || gw.clusterItems.inserted[0].ClusterID != "c1" {
		t.Errorf("expected cluster membership inserted for c1, got %+v", gw.clusterItems.inserted)
	}
	if _, ok := gw.clusters.centroids["c1"]; !ok {
		t.Errorf("expected centroid updated when UpdateCentroid is set")
	}
}

func TestRunCreatesNewClusterBelowThreshold(t *testing.T) {
	existing := core.Cluster{ID: "c1", CentroidVector: []float64{1, 0}}
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{{ID: "i1"}}},
		embeddings:   fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{0, 1}}}},
		clusters:     fakeClusterRepo{nearest: &existing, nearestCount: 1, nearestSim: 0.2},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowEnd: time.Now()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Created != 1 || result.Joined != 0 {
		t.Errorf("expected a new cluster created when similarity is below threshold, got %+v", result)
	}
}

func TestRunSkipsAlreadyClusteredItems(t *testing.T) {
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{
			candidates: []core.ContentItem{{ID: "i1"}},
			clustered:  map[string]bool{"i1": true},
		},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{1, 0}}}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowEnd: time.Now()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempted != 0 {
		t.Errorf("expected already-clustered items to be skipped, got %+v", result)
	}
}

func TestRunSkipsSignalBundles(t *testing.T) {
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{{ID: "i1", SourceType: "signal", CanonicalURL: nil}}},
		embeddings:   fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{1, 0}}}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowEnd: time.Now()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempted != 0 {
		t.Errorf("expected signal bundles to be excluded from candidates, got %+v", result)
	}
}

func TestRunFillsMissingRepresentative(t *testing.T) {
	existing := core.Cluster{ID: "c1", RepresentativeContentItem: nil, CentroidVector: []float64{1, 0}}
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{{ID: "i1"}}},
		embeddings:   fakeEmbeddingRepo{byItem: map[string]*core.Embedding{"i1": {ContentItemID: "i1", Vector: []float64{0.9, 0.1}}}},
		clusters:     fakeClusterRepo{nearest: &existing, nearestCount: 1, nearestSim: 0.9},
	}

	_, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1", WindowEnd: time.Now()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gw.clusters.representative["c1"] == nil || *gw.clusters.representative["c1"] != "i1" {
		t.Errorf("expected i1 filled in as the cluster's representative, got %+v", gw.clusters.representative)
	}
}

func strPtr(s string) *string { return &s }
