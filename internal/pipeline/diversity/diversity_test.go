package diversity

import (
	"testing"

	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/pipeline/rank"
)

func rankedWith(sourceType, sourceID string, score float64, hasTriage bool) rank.Ranked {
	return rank.Ranked{
		Candidate:     candidates.Candidate{SourceType: sourceType, SourceID: sourceID},
		Score:         score,
		HasTriageData: hasTriage,
	}
}

func TestSelectPenalizesRepeatedSource(t *testing.T) {
	ranked := []rank.Ranked{
		rankedWith("rss", "s1", 0.9, true),
		rankedWith("rss", "s1", 0.85, true),
		rankedWith("reddit", "s2", 0.7, true),
	}
	selected, _ := Select(ranked, 2, 0, 0.5, false)
	if len(selected) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(selected))
	}
	if selected[1].Candidate.SourceID != "s2" {
		t.Errorf("expected the repeated source to be penalized enough to let s2 in, got %+v", selected)
	}
}

func TestSelectStopsAtMaxItems(t *testing.T) {
	ranked := []rank.Ranked{
		rankedWith("rss", "s1", 0.9, true),
		rankedWith("rss", "s2", 0.8, true),
		rankedWith("rss", "s3", 0.7, true),
	}
	selected, stats := Select(ranked, 2, 0, 0, false)
	if len(selected) != 2 || stats.Selected != 2 {
		t.Fatalf("expected selection capped at maxItems=2, got %d", len(selected))
	}
}

func TestSelectFiltersUntriagedWhenRequired(t *testing.T) {
	ranked := []rank.Ranked{
		rankedWith("rss", "s1", 0.9, false),
		rankedWith("rss", "s2", 0.8, true),
	}
	selected, stats := Select(ranked, 5, 0, 0, true)
	if len(selected) != 1 || selected[0].Candidate.SourceID != "s2" {
		t.Fatalf("expected only the triaged candidate selected, got %+v", selected)
	}
	if !stats.TriageAvailabilityLimited {
		t.Error("expected TriageAvailabilityLimited true when untriaged candidates were filtered")
	}
}

func TestSelectIncrementsClusterMemberSourceCounts(t *testing.T) {
	ranked := []rank.Ranked{
		{Candidate: candidates.Candidate{SourceType: "cluster", SourceID: "rep", MemberSources: []string{"m1", "m2"}}, Score: 0.9, HasTriageData: true},
		rankedWith("rss", "m1", 0.85, true),
	}
	_, stats := Select(ranked, 2, 0, 0.5, false)
	if stats.BySource["m1"] < 1 {
		t.Errorf("expected member source m1 counted from the cluster pick, got %+v", stats.BySource)
	}
}
