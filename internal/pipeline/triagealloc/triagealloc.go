// Package triagealloc splits a bounded triage-call budget into an
// exploration phase (fair coverage across source types/sources) and an
// exploitation phase (global top by heuristic score). Grounded on the
// same stratified-allocation idiom as internal/pipeline/fairsample,
// generalized to a two-phase budget split per spec.md §4.9.
package triagealloc

import (
	"sort"

	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
)

// DefaultExplorationFraction is the documented default when a caller
// doesn't override it.
const DefaultExplorationFraction = 0.3

// indexed pairs a candidate with its position in the original pool, so
// exploration picks can be excluded from the exploitation remainder
// without relying on value equality.
type indexed struct {
	idx int
	c   candidates.Candidate
}

// Allocate picks which candidates receive a triage call, in the order
// they should be called (exploration first, then exploitation), per
// spec.md §4.9.
func Allocate(pool []candidates.Candidate, maxTriageCalls int, explorationFraction float64) []candidates.Candidate {
	if explorationFraction <= 0 {
		explorationFraction = DefaultExplorationFraction
	}
	if maxTriageCalls <= 0 || len(pool) <= maxTriageCalls {
		sorted := append([]candidates.Candidate(nil), pool...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].HeuristicScore > sorted[j].HeuristicScore })
		return sorted
	}

	all := make([]indexed, len(pool))
	for i, c := range pool {
		all[i] = indexed{idx: i, c: c}
	}

	explorationBudget := maxInt(1, int(float64(maxTriageCalls)*explorationFraction))
	exploitationBudget := maxTriageCalls - explorationBudget

	byType := make(map[string][]indexed)
	for _, x := range all {
		byType[x.c.SourceType] = append(byType[x.c.SourceType], x)
	}
	basePerType := maxInt(2, explorationBudget/maxInt(1, len(byType)))

	var exploration []indexed
	for _, members := range byType {
		bySource := make(map[string][]indexed)
		for _, x := range members {
			bySource[x.c.SourceID] = append(bySource[x.c.SourceID], x)
		}
		basePerSource := maxInt(1, basePerType/maxInt(1, len(bySource)))

		var typePicks []indexed
		for _, sourceMembers := range bySource {
			sort.SliceStable(sourceMembers, func(i, j int) bool { return sourceMembers[i].c.HeuristicScore > sourceMembers[j].c.HeuristicScore })
			take := basePerSource
			if take > len(sourceMembers) {
				take = len(sourceMembers)
			}
			typePicks = append(typePicks, sourceMembers[:take]...)
		}
		if len(typePicks) > basePerType {
			sort.SliceStable(typePicks, func(i, j int) bool { return typePicks[i].c.HeuristicScore > typePicks[j].c.HeuristicScore })
			typePicks = typePicks[:basePerType]
		}
		exploration = append(exploration, typePicks...)
	}
	if len(exploration) > explorationBudget {
		sort.SliceStable(exploration, func(i, j int) bool { return exploration[i].c.HeuristicScore > exploration[j].c.HeuristicScore })
		exploration = exploration[:explorationBudget]
	}

	inExploration := make(map[int]bool, len(exploration))
	for _, x := range exploration {
		inExploration[x.idx] = true
	}

	var remainder []candidates.Candidate
	for i, c := range pool {
		if !inExploration[i] {
			remainder = append(remainder, c)
		}
	}
	sort.SliceStable(remainder, func(i, j int) bool { return remainder[i].HeuristicScore > remainder[j].HeuristicScore })
	if len(remainder) > exploitationBudget {
		remainder = remainder[:exploitationBudget]
	}

	sort.SliceStable(exploration, func(i, j int) bool { return exploration[i].c.HeuristicScore > exploration[j].c.HeuristicScore })
	out := make([]candidates.Candidate, 0, len(exploration)+len(remainder))
	for _, x := range exploration {
		out = append(out, x.c)
	}
	out = append(out, remainder...)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
