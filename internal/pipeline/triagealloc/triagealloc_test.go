package triagealloc

import (
	"testing"

	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
)

func TestAllocateReturnsAllSortedWhenUnderBudget(t *testing.T) {
	pool := []candidates.Candidate{
		{SourceType: "rss", SourceID: "s1", HeuristicScore: 0.2},
		{SourceType: "rss", SourceID: "s1", HeuristicScore: 0.9},
	}
	picked := Allocate(pool, 10, 0)
	if len(picked) != 2 {
		t.Fatalf("expected all candidates returned under budget, got %d", len(picked))
	}
	if picked[0].HeuristicScore != 0.9 {
		t.Errorf("expected descending heuristic order, got %+v", picked)
	}
}

func TestAllocateSplitsExplorationAndExploitation(t *testing.T) {
	var pool []candidates.Candidate
	for i := 0; i < 5; i++ {
		pool = append(pool, candidates.Candidate{SourceType: "rss", SourceID: "quiet", HeuristicScore: 0.1})
	}
	for i := 0; i < 50; i++ {
		pool = append(pool, candidates.Candidate{SourceType: "reddit", SourceID: "loud", HeuristicScore: float64(i) / 50})
	}

	picked := Allocate(pool, 10, 0.3)
	if len(picked) > 10 {
		t.Fatalf("expected allocation capped at maxTriageCalls, got %d", len(picked))
	}

	foundQuiet := false
	for _, c := range picked {
		if c.SourceID == "quiet" {
			foundQuiet = true
		}
	}
	if !foundQuiet {
		t.Error("expected the exploration phase to give the quiet source at least one slot")
	}
}

func TestAllocateDefaultsExplorationFraction(t *testing.T) {
	var pool []candidates.Candidate
	for i := 0; i < 20; i++ {
		pool = append(pool, candidates.Candidate{SourceType: "rss", SourceID: "s1", HeuristicScore: float64(i)})
	}
	picked := Allocate(pool, 5, 0)
	if len(picked) != 5 {
		t.Fatalf("expected exactly maxTriageCalls picks, got %d", len(picked))
	}
}
