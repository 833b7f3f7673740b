package tabulator

import (
	"sort"

	"github.com/openrcv/tally/internal/decimal"
)

// tallyGroup is the set of candidates sharing one exact vote total.
// Candidates within a group are sorted lexicographically so tie detection
// and batch accumulation iterate deterministically.
type tallyGroup struct {
	tally      decimal.Decimal
	candidates []string
}

// tallyGroups is the "inverted" view of a round tally: groups in ascending
// tally order. It drives winner detection, minimum-threshold drops, batch
// elimination and regular elimination.
type tallyGroups []tallyGroup

// buildTallyGroups inverts a candidate -> tally map. When include is
// non-nil only those candidates participate; tie-break tabulations use
// this to restrict prior-round tallies to the tied set.
func buildTallyGroups(roundTally map[string]decimal.Decimal, include []string) tallyGroups {
	candidates := include
	if candidates == nil {
		candidates = make([]string, 0, len(roundTally))
		for candidate := range roundTally {
			candidates = append(candidates, candidate)
		}
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	sort.SliceStable(sorted, func(i, j int) bool {
		return roundTally[sorted[i]].Cmp(roundTally[sorted[j]]) < 0
	})

	var groups tallyGroups
	for _, candidate := range sorted {
		tally := roundTally[candidate]
		if n := len(groups); n > 0 && groups[n-1].tally.Equal(tally) {
			groups[n-1].candidates = append(groups[n-1].candidates, candidate)
			continue
		}
		groups = append(groups, tallyGroup{tally: tally, candidates: []string{candidate}})
	}
	return groups
}

// lowest returns the group with the smallest tally. Callers must not pass
// an empty set of groups.
func (g tallyGroups) lowest() tallyGroup {
	return g[0]
}

// highest returns the group with the largest tally.
func (g tallyGroups) highest() tallyGroup {
	return g[len(g)-1]
}
