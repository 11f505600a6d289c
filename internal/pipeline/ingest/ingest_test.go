package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/lamosty/aharadar-go/internal/connectors"
	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

type stubRawItem struct {
	title string
}

type stubConnector struct {
	sourceType string
	items      []stubRawItem
	fetchErr   error
}

func (c *stubConnector) Type() string { return c.sourceType }

func (c *stubConnector) Fetch(ctx context.Context, params connectors.FetchParams) (connectors.FetchResult, error) {
	if c.fetchErr != nil {
		return connectors.FetchResult{}, c.fetchErr
	}
	raw := make([]any, len(c.items))
	for i, item := range c.items {
		raw[i] = item
	}
	return connectors.FetchResult{RawItems: raw, NextCursor: map[string]any{"page": 2}}, nil
}

func (c *stubConnector) Normalize(ctx context.Context, raw any, params connectors.FetchParams) (storage.ContentItemDraft, error) {
	item := raw.(stubRawItem)
	return storage.ContentItemDraft{
		SourceType:  c.sourceType,
		Title:       item.title,
		PublishedAt: time.Now(),
	}, nil
}

type fakeGateway struct {
	storage.Gateway
	sources       fakeSourceRepo
	contentItems  fakeContentItemRepo
	links         fakeContentItemSourceRepo
	providerCalls fakeProviderCallRepo
	fetchRuns     fakeFetchRunRepo
}

func (g *fakeGateway) Sources() storage.SourceRepo                       { return &g.sources }
func (g *fakeGateway) ContentItems() storage.ContentItemRepo             { return &g.contentItems }
func (g *fakeGateway) ContentItemSources() storage.ContentItemSourceRepo { return &g.links }
func (g *fakeGateway) ProviderCalls() storage.ProviderCallRepo           { return &g.providerCalls }
func (g *fakeGateway) FetchRuns() storage.FetchRunRepo                   { return &g.fetchRuns }

type fakeSourceRepo struct {
	bySourceID map[string]*core.Source
	cursors    map[string]map[string]any
}

func (r *fakeSourceRepo) Get(ctx context.Context, id string) (*core.Source, error) {
	return r.bySourceID[id], nil
}

func (r *fakeSourceRepo) ListEnabledByTopic(ctx context.Context, topicID string) ([]core.Source, error) {
	var out []core.Source
	for _, s := range r.bySourceID {
		if s.TopicID == topicID && s.IsEnabled {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSourceRepo) UpdateCursor(ctx context.Context, sourceID string, cursor map[string]any) error {
	if r.cursors == nil {
		r.cursors = make(map[string]map[string]any)
	}
	r.cursors[sourceID] = cursor
	return nil
}

type fakeContentItemRepo struct {
	storage.ContentItemRepo
	upserts int
}

func (r *fakeContentItemRepo) Upsert(ctx context.Context, userID, sourceID string, draft storage.ContentItemDraft, hashURL, syntheticExternalID *string) (*core.ContentItem, error) {
	r.upserts++
	return &core.ContentItem{ID: core.NewID(), UserID: userID, SourceID: sourceID, Title: draft.Title}, nil
}

type fakeContentItemSourceRepo struct {
	links int
}

func (r *fakeContentItemSourceRepo) Link(ctx context.Context, contentItemID, sourceID string) error {
	r.links++
	return nil
}

type fakeProviderCallRepo struct {
	storage.ProviderCallRepo
	inserted []core.ProviderCall
}

func (r *fakeProviderCallRepo) Insert(ctx context.Context, call core.ProviderCall) error {
	r.inserted = append(r.inserted, call)
	return nil
}

type fakeFetchRunRepo struct {
	created   []core.FetchRun
	finalized []core.FetchRunStatus
}

func (r *fakeFetchRunRepo) Create(ctx context.Context, run core.FetchRun) (*core.FetchRun, error) {
	run.ID = core.NewID()
	r.created = append(r.created, run)
	return &run, nil
}

func (r *fakeFetchRunRepo) Finalize(ctx context.Context, runID string, status core.FetchRunStatus, cursorOut map[string]any, counts map[string]int, errMsg *string) error {
	r.finalized = append(r.finalized, status)
	return nil
}

func newTestFetcher(conn connectors.Connector) *connectors.Fetcher {
	registry := connectors.NewRegistry()
	registry.Register(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiters := connectors.NewRateLimiters(ctx, 100, 10)
	return connectors.NewFetcher(registry, limiters, connectors.DefaultBreakerConfig())
}

func TestRunIngestsAndUpsertsItems(t *testing.T) {
	gw := &fakeGateway{
		sources: fakeSourceRepo{bySourceID: map[string]*core.Source{
			"src-1": {ID: "src-1", TopicID: "topic-1", Type: "rss", IsEnabled: true},
		}},
	}
	conn := &stubConnector{sourceType: "rss", items: []stubRawItem{{title: "a"}, {title: "b"}}}
	fetcher := newTestFetcher(conn)

	result, err := Run(context.Background(), gw, fetcher, Params{
		UserID: "user-1", TopicID: "topic-1",
		WindowStart: time.Now().Add(-time.Hour), WindowEnd: time.Now(),
		MaxItemsPerSource: 50, PaidCallsAllowed: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("expected 1 source result, got %d", len(result.Sources))
	}
	sr := result.Sources[0]
	if sr.Status != core.FetchRunOK {
		t.Errorf("expected status ok, got %v (reason %q)", sr.Status, sr.Reason)
	}
	if sr.Upserted != 2 {
		t.Errorf("expected 2 upserts, got %d", sr.Upserted)
	}
	if gw.contentItems.upserts != 2 {
		t.Errorf("expected gateway to record 2 upserts, got %d", gw.contentItems.upserts)
	}
	if gw.links.links != 2 {
		t.Errorf("expected 2 content-item-source links, got %d", gw.links.links)
	}
}

func TestRunSkipsPaidSourceWithoutBudget(t *testing.T) {
	gw := &fakeGateway{
		sources: fakeSourceRepo{bySourceID: map[string]*core.Source{
			"src-1": {ID: "src-1", TopicID: "topic-1", Type: "signal", IsEnabled: true},
		}},
	}
	conn := &stubConnector{sourceType: "signal", items: []stubRawItem{{title: "a"}}}
	fetcher := newTestFetcher(conn)

	result, err := Run(context.Background(), gw, fetcher, Params{
		UserID: "user-1", TopicID: "topic-1",
		WindowStart: time.Now().Add(-time.Hour), WindowEnd: time.Now(),
		MaxItemsPerSource: 50, PaidCallsAllowed: false,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Sources[0].Status != core.FetchRunSkipped {
		t.Errorf("expected skipped status for paid source without budget, got %v", result.Sources[0].Status)
	}
	if result.Sources[0].Reason != "budget_exhausted" {
		t.Errorf("expected budget_exhausted reason, got %q", result.Sources[0].Reason)
	}
	if gw.contentItems.upserts != 0 {
		t.Errorf("expected no upserts for a skipped source, got %d", gw.contentItems.upserts)
	}
}

func TestRunFiltersBySourceType(t *testing.T) {
	gw := &fakeGateway{
		sources: fakeSourceRepo{bySourceID: map[string]*core.Source{
			"src-1": {ID: "src-1", TopicID: "topic-1", Type: "rss", IsEnabled: true},
			"src-2": {ID: "src-2", TopicID: "topic-1", Type: "signal", IsEnabled: true},
		}},
	}
	conn := &stubConnector{sourceType: "rss"}
	fetcher := newTestFetcher(conn)

	result, err := Run(context.Background(), gw, fetcher, Params{
		UserID: "user-1", TopicID: "topic-1",
		WindowStart: time.Now().Add(-time.Hour), WindowEnd: time.Now(),
		OnlySourceTypes: map[string]bool{"rss": true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Sources) != 1 || result.Sources[0].SourceID != "src-1" {
		t.Fatalf("expected only src-1 to run, got %+v", result.Sources)
	}
}
