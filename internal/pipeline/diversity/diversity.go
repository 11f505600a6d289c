// Package diversity picks the final top-N ranked candidates with soft
// per-type/per-source penalties so no single source or source type can
// dominate a digest. Grounded on the same greedy-reweight idiom as
// internal/pipeline/triagealloc's per-group allocation, applied here to
// a single pass over the already-ranked list instead of a budget split.
package diversity

import (
	"github.com/lamosty/aharadar-go/internal/pipeline/rank"
)

// DefaultAlphaType and DefaultAlphaSource are the documented default
// per-type and per-source penalty coefficients.
const (
	DefaultAlphaType   = 0.15
	DefaultAlphaSource = 0.05
)

// Stats summarizes one Select invocation's outcome.
type Stats struct {
	Selected                  int
	TriageAvailabilityLimited bool
	ByType                    map[string]int
	BySource                  map[string]int
}

// Select runs the diversity-penalized greedy selection of spec.md
// §4.14. When requireTriageData is true, candidates without triage
// data are filtered out before selection.
func Select(ranked []rank.Ranked, maxItems int, alphaType, alphaSource float64, requireTriageData bool) ([]rank.Ranked, Stats) {
	if alphaType <= 0 {
		alphaType = DefaultAlphaType
	}
	if alphaSource <= 0 {
		alphaSource = DefaultAlphaSource
	}

	pool := ranked
	limited := false
	if requireTriageData {
		var filtered []rank.Ranked
		for _, r := range ranked {
			if r.HasTriageData {
				filtered = append(filtered, r)
			}
		}
		limited = len(filtered) < len(ranked)
		pool = filtered
	}

	typeCounts := make(map[string]int)
	sourceCounts := make(map[string]int)
	remaining := append([]rank.Ranked(nil), pool...)
	var selected []rank.Ranked

	for len(selected) < maxItems && len(remaining) > 0 {
		bestIdx := 0
		bestAdjusted := remaining[0].Score / (1 + alphaType*float64(typeCounts[remaining[0].Candidate.SourceType]) + alphaSource*float64(sourceCounts[remaining[0].Candidate.SourceID]))
		for i, r := range remaining {
			adjusted := r.Score / (1 + alphaType*float64(typeCounts[r.Candidate.SourceType]) + alphaSource*float64(sourceCounts[r.Candidate.SourceID]))
			if adjusted > bestAdjusted {
				bestAdjusted = adjusted
				bestIdx = i
			}
		}
		chosen := remaining[bestIdx]
		selected = append(selected, chosen)
		typeCounts[chosen.Candidate.SourceType]++
		sourceCounts[chosen.Candidate.SourceID]++
		for _, memberSource := range chosen.Candidate.MemberSources {
			sourceCounts[memberSource]++
		}
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected, Stats{
		Selected:                  len(selected),
		TriageAvailabilityLimited: limited,
		ByType:                    typeCounts,
		BySource:                  sourceCounts,
	}
}
