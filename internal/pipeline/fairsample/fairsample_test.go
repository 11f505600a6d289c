package fairsample

import (
	"testing"
	"time"

	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
)

func TestSampleReturnsAllWhenUnderCap(t *testing.T) {
	now := time.Now()
	pool := []candidates.Candidate{
		{SourceType: "rss", SourceID: "s1", CandidateAt: now},
		{SourceType: "rss", SourceID: "s2", CandidateAt: now},
	}
	sampled, stats := Sample(pool, now.Add(-time.Hour), now, 10)
	if len(sampled) != 2 {
		t.Fatalf("expected all candidates returned under cap, got %d", len(sampled))
	}
	if stats.UniqueSources != 2 {
		t.Errorf("expected 2 unique sources, got %d", stats.UniqueSources)
	}
}

func TestSampleCapsHighVolumeSource(t *testing.T) {
	now := time.Now()
	windowStart := now.Add(-24 * time.Hour)
	var pool []candidates.Candidate
	for i := 0; i < 50; i++ {
		pool = append(pool, candidates.Candidate{
			SourceType: "reddit", SourceID: "big-source",
			CandidateAt: windowStart.Add(time.Duration(i) * time.Minute), HeuristicScore: float64(i),
		})
	}
	pool = append(pool, candidates.Candidate{
		SourceType: "rss", SourceID: "small-source", CandidateAt: windowStart.Add(time.Hour), HeuristicScore: 0.5,
	})

	sampled, stats := Sample(pool, windowStart, now, 10)
	if len(sampled) > 10 {
		t.Fatalf("expected sampled pool capped at maxPoolSize, got %d", len(sampled))
	}

	foundSmall := false
	for _, c := range sampled {
		if c.SourceID == "small-source" {
			foundSmall = true
		}
	}
	if !foundSmall {
		t.Error("expected the quiet source to survive stratified sampling alongside the high-volume one")
	}
	if stats.GroupCount == 0 {
		t.Error("expected a nonzero group count when sampling was applied")
	}
}

func TestSampleBucketCountClamped(t *testing.T) {
	now := time.Now()
	windowStart := now.Add(-2 * time.Hour) // 1 bucket by raw round, clamped to 3
	var pool []candidates.Candidate
	for i := 0; i < 20; i++ {
		pool = append(pool, candidates.Candidate{SourceType: "rss", SourceID: "s1", CandidateAt: windowStart, HeuristicScore: float64(i)})
	}
	_, stats := Sample(pool, windowStart, now, 5)
	if stats.BucketCount < 3 || stats.BucketCount > 12 {
		t.Errorf("expected bucket count clamped to [3,12], got %d", stats.BucketCount)
	}
}
