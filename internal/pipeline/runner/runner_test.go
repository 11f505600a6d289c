package runner

import (
	"context"
	"testing"
	"time"

	"github.com/lamosty/aharadar-go/internal/budget"
	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

type fakeGateway struct {
	storage.Gateway
	sources       fakeSourceRepo
	topics        fakeTopicRepo
	contentItems  fakeContentItemRepo
	clusterItems  fakeClusterItemRepo
	preferences   fakePreferenceRepo
	feedback      fakeFeedbackRepo
	digests       fakeDigestRepo
	providerCalls fakeProviderCallRepo
	budgetResets  fakeBudgetResetRepo
}

func (g *fakeGateway) Sources() storage.SourceRepo             { return &g.sources }
func (g *fakeGateway) Topics() storage.TopicRepo               { return &g.topics }
func (g *fakeGateway) ContentItems() storage.ContentItemRepo   { return &g.contentItems }
func (g *fakeGateway) ClusterItems() storage.ClusterItemRepo   { return &g.clusterItems }
func (g *fakeGateway) Preferences() storage.PreferenceRepo     { return &g.preferences }
func (g *fakeGateway) Feedback() storage.FeedbackRepo          { return &g.feedback }
func (g *fakeGateway) Digests() storage.DigestRepo             { return &g.digests }
func (g *fakeGateway) ProviderCalls() storage.ProviderCallRepo { return &g.providerCalls }
func (g *fakeGateway) BudgetResets() storage.BudgetResetRepo   { return &g.budgetResets }
func (g *fakeGateway) WithTx(ctx context.Context, fn func(tx storage.Gateway) error) error {
	return fn(g)
}

type fakeSourceRepo struct{ storage.SourceRepo }

func (r *fakeSourceRepo) ListEnabledByTopic(ctx context.Context, topicID string) ([]core.Source, error) {
	return nil, nil
}

type fakeTopicRepo struct {
	storage.TopicRepo
	advancedTo *time.Time
}

func (r *fakeTopicRepo) AdvanceCursor(ctx context.Context, topicID string, windowEnd time.Time) error {
	r.advancedTo = &windowEnd
	return nil
}

type fakeContentItemRepo struct{ storage.ContentItemRepo }

func (r *fakeContentItemRepo) ListWindow(ctx context.Context, q storage.WindowQuery) ([]core.ContentItem, error) {
	return nil, nil
}

type fakeClusterItemRepo struct{ storage.ClusterItemRepo }

func (r *fakeClusterItemRepo) ListClustersWithMembersInWindow(ctx context.Context, userID, topicID string, start, end time.Time) ([]string, error) {
	return nil, nil
}

type fakePreferenceRepo struct{ storage.PreferenceRepo }

func (r *fakePreferenceRepo) Get(ctx context.Context, userID, topicID string) (*core.TopicPreferenceProfile, error) {
	return nil, nil
}

type fakeFeedbackRepo struct{ storage.FeedbackRepo }

func (r *fakeFeedbackRepo) ListRecent(ctx context.Context, userID, topicID string, since time.Time) ([]core.FeedbackEvent, error) {
	return nil, nil
}

type fakeDigestRepo struct {
	storage.DigestRepo
	wrote bool
}

func (r *fakeDigestRepo) UpsertWithItems(ctx context.Context, d core.Digest, items []core.DigestItem) (*core.Digest, error) {
	r.wrote = true
	d.ID = core.NewID()
	return &d, nil
}

type fakeProviderCallRepo struct {
	storage.ProviderCallRepo
	spent float64
}

func (r *fakeProviderCallRepo) Insert(ctx context.Context, call core.ProviderCall) error { return nil }
func (r *fakeProviderCallRepo) SumCreditsSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	return r.spent, nil
}

type fakeBudgetResetRepo struct{ storage.BudgetResetRepo }

func (r *fakeBudgetResetRepo) SumSince(ctx context.Context, userID string, period core.BudgetResetPeriod, since time.Time) (float64, error) {
	return 0, nil
}

func testTopic() core.Topic {
	return core.Topic{ID: "t1", UserID: "u1", Name: "test", DigestMode: core.TierNormal}
}

func TestRunSkipsDigestWhenCreditsExhausted(t *testing.T) {
	gw := &fakeGateway{providerCalls: fakeProviderCallRepo{spent: 1000}}
	budgetEngine := budget.NewEngine(gw, budget.DefaultThresholds(), nil, 0)

	windowEnd := time.Now()
	result, err := Run(context.Background(), gw, nil, nil, budgetEngine, Params{
		Topic:          testTopic(),
		WindowStart:    windowEnd.Add(-time.Hour),
		WindowEnd:      windowEnd,
		MonthlyCredits: 10,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.DigestSkippedDueToCredits {
		t.Error("expected digest to be skipped when credits exhausted")
	}
	if result.Digest != nil {
		t.Errorf("expected nil digest, got %+v", result.Digest)
	}
	if result.Tier != core.TierLow {
		t.Errorf("expected tier clamped to low, got %s", result.Tier)
	}
	if gw.topics.advancedTo == nil {
		t.Error("expected cursor to advance even when digest is skipped")
	}
	if gw.digests.wrote {
		t.Error("expected no digest to be written when credits are exhausted")
	}
}

func TestRunWritesEmptyDigestWhenCreditsAvailable(t *testing.T) {
	gw := &fakeGateway{}
	budgetEngine := budget.NewEngine(gw, budget.DefaultThresholds(), nil, 0)

	windowEnd := time.Now()
	result, err := Run(context.Background(), gw, nil, nil, budgetEngine, Params{
		Topic:            testTopic(),
		WindowStart:      windowEnd.Add(-time.Hour),
		WindowEnd:        windowEnd,
		MonthlyCredits:   100,
		MaxPoolSize:      50,
		MaxTriageCalls:   10,
		MaxDigestItems:   20,
		MaxDeepSummaries: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.DigestSkippedDueToCredits {
		t.Error("expected digest not to be skipped when credits available")
	}
	if result.Digest == nil {
		t.Fatal("expected a digest to be written, even if empty")
	}
	if !gw.digests.wrote {
		t.Error("expected UpsertWithItems to be called")
	}
	if gw.topics.advancedTo == nil || !gw.topics.advancedTo.Equal(windowEnd) {
		t.Errorf("expected cursor advanced to window end, got %v", gw.topics.advancedTo)
	}
}

func TestFeedbackDeltaSigns(t *testing.T) {
	if feedbackDelta(core.FeedbackLike) <= 0 {
		t.Error("expected like to produce a positive delta")
	}
	if feedbackDelta(core.FeedbackDislike) >= 0 {
		t.Error("expected dislike to produce a negative delta")
	}
	if feedbackDelta(core.FeedbackSkip) != 0 {
		t.Error("expected skip to produce no delta")
	}
}

func TestWeighMapClampsToRange(t *testing.T) {
	out := weighMap(map[string]float64{"a": 10, "b": -10})
	if out["a"] != 2.0 {
		t.Errorf("expected upper clamp at 2.0, got %v", out["a"])
	}
	if out["b"] != 0.5 {
		t.Errorf("expected lower clamp at 0.5, got %v", out["b"])
	}
}
