package digest

import (
	"context"
	"testing"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/pipeline/enrich"
	"github.com/lamosty/aharadar-go/internal/pipeline/rank"
	"github.com/lamosty/aharadar-go/internal/storage"
)

type fakeGateway struct {
	storage.Gateway
	digests fakeDigestRepo
}

func (g *fakeGateway) Digests() storage.DigestRepo { return &g.digests }
func (g *fakeGateway) WithTx(ctx context.Context, fn func(tx storage.Gateway) error) error {
	return fn(g)
}

type fakeDigestRepo struct {
	storage.DigestRepo
	upserted      core.Digest
	upsertedItems []core.DigestItem
}

func (r *fakeDigestRepo) UpsertWithItems(ctx context.Context, d core.Digest, items []core.DigestItem) (*core.Digest, error) {
	r.upserted = d
	r.upsertedItems = items
	d.ID = core.NewID()
	return &d, nil
}

func idPtr(s string) *string { return &s }

func TestWritePersistsRankedItemsInOrder(t *testing.T) {
	gw := &fakeGateway{}
	selected := []rank.Ranked{
		{Candidate: candidates.Candidate{ContentItemID: idPtr("i1")}, Score: 0.9, TriageJSON: map[string]any{"a": 1}},
		{Candidate: candidates.Candidate{ClusterID: idPtr("c1")}, Score: 0.5},
	}

	written, err := Write(context.Background(), gw, selected, nil, Params{
		UserID: "u1", TopicID: "t1", WindowStart: time.Now().Add(-time.Hour), WindowEnd: time.Now(), Mode: core.TierNormal,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if written.ID == "" {
		t.Error("expected a persisted digest id")
	}
	if len(gw.digests.upsertedItems) != 2 {
		t.Fatalf("expected 2 digest items, got %d", len(gw.digests.upsertedItems))
	}
	if gw.digests.upsertedItems[0].Rank != 1 || gw.digests.upsertedItems[1].Rank != 2 {
		t.Errorf("expected dense 1-based ranks, got %+v", gw.digests.upsertedItems)
	}
	if gw.digests.upsertedItems[0].ContentItemID == nil || gw.digests.upsertedItems[1].ClusterID == nil {
		t.Errorf("expected exactly one of clusterId/contentItemId set per item, got %+v", gw.digests.upsertedItems)
	}
}

func TestWriteAttachesSummaryJSON(t *testing.T) {
	gw := &fakeGateway{}
	selected := []rank.Ranked{{Candidate: candidates.Candidate{ContentItemID: idPtr("i1")}, Score: 0.9}}
	summaries := map[int]enrich.Summary{0: {Text: "short summary", Provider: "fake", Model: "m"}}

	_, err := Write(context.Background(), gw, selected, summaries, Params{
		UserID: "u1", TopicID: "t1", WindowStart: time.Now().Add(-time.Hour), WindowEnd: time.Now(), Mode: core.TierNormal,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if gw.digests.upsertedItems[0].SummaryJSON["text"] != "short summary" {
		t.Errorf("expected summary text attached, got %+v", gw.digests.upsertedItems[0].SummaryJSON)
	}
}
