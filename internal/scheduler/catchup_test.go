package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
)

// scriptedAdapter replies with selectReply to the pack-select prompt and
// tierReply to the pack-tier prompt, distinguished by prompt content
// since both route through the same freeform Enrich call shape.
type scriptedAdapter struct {
	selectReply string
	tierReply   string
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Triage(ctx context.Context, model string, fields llm.CandidateFields) (llm.CallResult, error) {
	return llm.CallResult{}, nil
}

func (a *scriptedAdapter) Enrich(ctx context.Context, model string, prompt string) (llm.CallResult, error) {
	if strings.Contains(prompt, "deserve a full pipeline run") {
		return llm.CallResult{RawText: a.selectReply}, nil
	}
	return llm.CallResult{RawText: a.tierReply}, nil
}

func testCatchupRouter(selectReply, tierReply string) *llm.TracedRouter {
	adapter := &scriptedAdapter{selectReply: selectReply, tierReply: tierReply}
	cfg := llm.RouterConfig{Models: map[llm.Purpose]map[llm.Tier]llm.ModelChoice{
		llm.PurposeCatchupPackSelect: {llm.TierLow: {Provider: "scripted", Model: "scripted-select"}},
		llm.PurposeCatchupPackTier:   {llm.TierLow: {Provider: "scripted", Model: "scripted-tier"}},
	}}
	return llm.NewTracedRouter(llm.NewRouter(cfg, nil, adapter))
}

func sampleBacklog(n int, now time.Time) []BacklogWindow {
	backlog := make([]BacklogWindow, n)
	for i := 0; i < n; i++ {
		start := now.Add(-time.Duration(n-i) * time.Hour)
		backlog[i] = BacklogWindow{Start: start, End: start.Add(time.Hour)}
	}
	return backlog
}

func TestSelectCatchupPackNoBudgetFallsBackToHeuristic(t *testing.T) {
	topic := core.Topic{ID: "t1", Name: "news"}
	backlog := sampleBacklog(3, time.Now())
	router := testCatchupRouter("SELECT: 0,2", "TIER: 0=high\nTIER: 2=normal")

	decisions, err := SelectCatchupPack(context.Background(), router, topic, backlog, false)
	if err != nil {
		t.Fatalf("SelectCatchupPack: %v", err)
	}
	if len(decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decisions))
	}
	fullRuns := 0
	for i, d := range decisions {
		if d.FullRun {
			fullRuns++
			if i != len(decisions)-1 {
				t.Errorf("heuristic fallback should only mark the most recent window as a full run, got index %d", i)
			}
		}
	}
	if fullRuns != 1 {
		t.Errorf("expected exactly one heuristic full run, got %d", fullRuns)
	}
}

func TestSelectCatchupPackDispatchesToRouter(t *testing.T) {
	topic := core.Topic{ID: "t1", Name: "news"}
	backlog := sampleBacklog(3, time.Now())
	router := testCatchupRouter("SELECT: 0,2", "TIER: 0=high\nTIER: 2=normal")

	decisions, err := SelectCatchupPack(context.Background(), router, topic, backlog, true)
	if err != nil {
		t.Fatalf("SelectCatchupPack: %v", err)
	}
	if len(decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decisions))
	}
	if !decisions[0].FullRun || decisions[0].Tier != core.TierHigh {
		t.Errorf("expected index 0 to be a full run at high tier, got %+v", decisions[0])
	}
	if decisions[1].FullRun {
		t.Errorf("expected index 1 to remain heuristic-only, got %+v", decisions[1])
	}
	if !decisions[2].FullRun || decisions[2].Tier != core.TierNormal {
		t.Errorf("expected index 2 to be a full run at normal tier, got %+v", decisions[2])
	}
}

func TestSelectCatchupPackEmptyBacklog(t *testing.T) {
	topic := core.Topic{ID: "t1"}
	router := testCatchupRouter("SELECT:", "")
	decisions, err := SelectCatchupPack(context.Background(), router, topic, nil, true)
	if err != nil {
		t.Fatalf("SelectCatchupPack: %v", err)
	}
	if decisions != nil {
		t.Errorf("expected nil decisions for empty backlog, got %v", decisions)
	}
}

func TestSelectCatchupPackNoSelectionKeepsAllHeuristic(t *testing.T) {
	topic := core.Topic{ID: "t1"}
	backlog := sampleBacklog(2, time.Now())
	router := testCatchupRouter("SELECT:", "")
	decisions, err := SelectCatchupPack(context.Background(), router, topic, backlog, true)
	if err != nil {
		t.Fatalf("SelectCatchupPack: %v", err)
	}
	for _, d := range decisions {
		if d.FullRun {
			t.Errorf("expected no full runs when selection is empty, got %+v", d)
		}
	}
}
