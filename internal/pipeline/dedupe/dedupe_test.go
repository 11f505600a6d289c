package dedupe

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
}

func (g *fakeGateway) ContentItems() storage.ContentItemRepo { return &g.contentItems }
func (g *fakeGateway) Embeddings() storage.EmbeddingRepo     { return &g.embeddings }

type fakeContentItemRepo struct {
	storage.ContentItemRepo
	candidates []core.ContentItem
	duplicates map[string]string
}

func (r *fakeContentItemRepo) ListWindow(ctx context.Context, q storage.WindowQuery) ([]core.ContentItem, error) {
	return r.candidates, nil
}

func (r *fakeContentItemRepo) MarkDuplicate(ctx context.Context, itemID, duplicateOfID string) error {
	if r.duplicates == nil {
		r.duplicates = make(map[string]string)
	}
	r.duplicates[itemID] = duplicateOfID
	return nil
}

type fakeEmbeddingRepo struct {
	storage.EmbeddingRepo
	byItem   map[string]*core.Embedding
	neighbor *storage.Neighbor
}

func (r *fakeEmbeddingRepo) Get(ctx context.Context, contentItemID string) (*core.Embedding, error) {
	return r.byItem[contentItemID], nil
}

func (r *fakeEmbeddingRepo) NearestOlder(ctx context.Context, q storage.NeighborQuery) (*storage.Neighbor, error) {
	return r.neighbor, nil
}

func TestRunMarksDuplicateAboveThreshold(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{
			{ID: "i1", PublishedAt: now},
		}},
		embeddings: fakeEmbeddingRepo{
			byItem:   map[string]*core.Embedding{"i1": {ContentItemID: "i1", Model: "m", Dims: 3, Vector: []float64{1, 0, 0}}},
			neighbor: &storage.Neighbor{ContentItemID: "older", PublishedAt: now.Add(-time.Hour), Similarity: 0.999},
		},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempted != 1 || result.Matches != 1 || result.Deduped != 1 {
		t.Errorf("expected attempted=1 matches=1 deduped=1, got %+v", result)
	}
	if gw.contentItems.duplicates["i1"] != "older" {
		t.Errorf("expected i1 marked duplicate of older, got %+v", gw.contentItems.duplicates)
	}
}

func TestRunSkipsBelowThreshold(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{
			{ID: "i1", PublishedAt: now},
		}},
		embeddings: fakeEmbeddingRepo{
			byItem:   map[string]*core.Embedding{"i1": {ContentItemID: "i1", Model: "m", Dims: 3, Vector: []float64{1, 0, 0}}},
			neighbor: &storage.Neighbor{ContentItemID: "older", PublishedAt: now.Add(-time.Hour), Similarity: 0.5},
		},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Matches != 1 || result.Deduped != 0 {
		t.Errorf("expected a matched but undeduped neighbor, got %+v", result)
	}
	if len(gw.contentItems.duplicates) != 0 {
		t.Errorf("expected no duplicates marked below threshold, got %+v", gw.contentItems.duplicates)
	}
}

func TestRunSkipsItemsAlreadyDuplicate(t *testing.T) {
	dup := "other"
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{
			{ID: "i1", PublishedAt: time.Now(), DuplicateOfContentItem: &dup},
		}},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempted != 0 {
		t.Errorf("expected no attempts for an already-duplicate item, got %+v", result)
	}
}

func TestRunSkipsSignalBundles(t *testing.T) {
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{
			{ID: "i1", SourceType: "signal", CanonicalURL: nil, PublishedAt: time.Now()},
		}},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{
			"i1": {ContentItemID: "i1", Model: "m", Dims: 3, Vector: []float64{1, 0, 0}},
		}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempted != 0 {
		t.Errorf("expected signal bundles to be excluded from candidates, got %+v", result)
	}
}

func TestRunSkipsItemsWithoutEmbedding(t *testing.T) {
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{
			{ID: "i1", PublishedAt: time.Now()},
		}},
		embeddings: fakeEmbeddingRepo{byItem: map[string]*core.Embedding{}},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempted != 0 {
		t.Errorf("expected items without an embedding to be skipped, got %+v", result)
	}
}

func TestRunUsesDefaultThresholdWhenUnset(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		contentItems: fakeContentItemRepo{candidates: []core.ContentItem{
			{ID: "i1", PublishedAt: now},
		}},
		embeddings: fakeEmbeddingRepo{
			byItem:   map[string]*core.Embedding{"i1": {ContentItemID: "i1", Model: "m", Dims: 3, Vector: []float64{1, 0, 0}}},
			neighbor: &storage.Neighbor{ContentItemID: "older", PublishedAt: now.Add(-time.Hour), Similarity: 0.996},
		},
	}

	result, err := Run(context.Background(), gw, Params{UserID: "u1", TopicID: "t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Deduped != 1 {
		t.Errorf("expected default threshold 0.995 to mark a 0.996-similarity neighbor as duplicate, got %+v", result)
	}
}
