// Package fairsample stratifies the candidate pool by
// (sourceType, sourceId, timeBucket) so high-volume sources cannot
// starve quieter ones before the pool reaches downstream stages.
// Grounded on lueurxax-TelegramDigestBot's stratified-bucket digest
// constants, generalized into the bucket-then-cap-then-trim algorithm
// spec.md §4.8 describes.
package fairsample

import (
	"math"
	"sort"
	"time"

	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
)

// Stats summarizes one Sample invocation's outcome.
type Stats struct {
	BucketCount       int
	GroupCount        int
	UniqueTypes       int
	UniqueSources     int
	TopTypesByCount   map[string]int
	TopSourcesByCount map[string]int
}

// Sample runs the fair-sampling algorithm of spec.md §4.8 over pool,
// bounding the result to maxPoolSize.
func Sample(pool []candidates.Candidate, windowStart, windowEnd time.Time, maxPoolSize int) ([]candidates.Candidate, Stats) {
	if maxPoolSize <= 0 || len(pool) <= maxPoolSize {
		return pool, Stats{
			BucketCount:       0,
			GroupCount:        len(pool),
			UniqueTypes:       countUnique(pool, func(c candidates.Candidate) string { return c.SourceType }),
			UniqueSources:     countUnique(pool, func(c candidates.Candidate) string { return c.SourceID }),
			TopTypesByCount:   countBy(pool, func(c candidates.Candidate) string { return c.SourceType }),
			TopSourcesByCount: countBy(pool, func(c candidates.Candidate) string { return c.SourceID }),
		}
	}

	windowHours := windowEnd.Sub(windowStart).Hours()
	bucketCount := clampInt(3, 12, int(math.Round(windowHours/2)))
	windowMs := float64(windowEnd.Sub(windowStart).Milliseconds())

	type groupKey struct {
		sourceType string
		sourceID   string
		bucket     int
	}
	groups := make(map[groupKey][]candidates.Candidate)
	for _, c := range pool {
		bucket := 0
		if windowMs > 0 {
			tMs := float64(c.CandidateAt.Sub(windowStart).Milliseconds())
			bucket = clampInt(0, bucketCount-1, int(math.Floor(tMs/windowMs*float64(bucketCount))))
		}
		key := groupKey{c.SourceType, c.SourceID, bucket}
		groups[key] = append(groups[key], c)
	}

	kPerGroup := maxInt(1, int(math.Ceil(float64(maxPoolSize)/float64(len(groups)))))

	var union []candidates.Candidate
	for _, members := range groups {
		sort.SliceStable(members, func(i, j int) bool { return members[i].HeuristicScore > members[j].HeuristicScore })
		if len(members) > kPerGroup {
			members = members[:kPerGroup]
		}
		union = append(union, members...)
	}

	if len(union) > maxPoolSize {
		sort.SliceStable(union, func(i, j int) bool { return union[i].HeuristicScore > union[j].HeuristicScore })
		union = union[:maxPoolSize]
	}

	return union, Stats{
		BucketCount:       bucketCount,
		GroupCount:        len(groups),
		UniqueTypes:       countUnique(union, func(c candidates.Candidate) string { return c.SourceType }),
		UniqueSources:     countUnique(union, func(c candidates.Candidate) string { return c.SourceID }),
		TopTypesByCount:   countBy(union, func(c candidates.Candidate) string { return c.SourceType }),
		TopSourcesByCount: countBy(union, func(c candidates.Candidate) string { return c.SourceID }),
	}
}

func countUnique(pool []candidates.Candidate, key func(candidates.Candidate) string) int {
	return len(countBy(pool, key))
}

func countBy(pool []candidates.Candidate, key func(candidates.Candidate) string) map[string]int {
	out := make(map[string]int)
	for _, c := range pool {
		out[key(c)]++
	}
	return out
}

func clampInt(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
