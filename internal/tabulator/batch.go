package tabulator

import "github.com/openrcv/tally/internal/decimal"

// BatchElimination records one batch-eliminated candidate together with
// the accumulation context that proves the elimination was sound.
type BatchElimination struct {
	Candidate string
	// RunningTotal is the sum of all tallies examined when this candidate
	// was eliminated.
	RunningTotal decimal.Decimal
	// NextHighestTally is the tally the accumulated candidates could not
	// collectively reach.
	NextHighestTally decimal.Decimal
}

// runBatchElimination finds groups of lowest-tally candidates who cannot
// mathematically overtake the next candidate above them.
//
// Tallies are accumulated in ascending order. Whenever the running total
// falls short of the next tally, every candidate accumulated so far is
// eliminated: even absorbing every lower-placed vote they could not reach
// the next candidate, so none of them can win. Accumulation continues past
// a successful batch because later shortfalls may justify further
// eliminations in the same round.
func runBatchElimination(groups tallyGroups, arith decimal.Context) []BatchElimination {
	runningTotal := decimal.Zero
	var candidatesSeen []string
	alreadyEliminated := make(map[string]bool)
	var eliminations []BatchElimination

	for _, group := range groups {
		if runningTotal.Cmp(group.tally) < 0 {
			for _, candidate := range candidatesSeen {
				if alreadyEliminated[candidate] {
					continue
				}
				alreadyEliminated[candidate] = true
				eliminations = append(eliminations, BatchElimination{
					Candidate:        candidate,
					RunningTotal:     runningTotal,
					NextHighestTally: group.tally,
				})
			}
		}
		groupTotal := arith.Mul(group.tally, decimal.FromInt(len(group.candidates)))
		runningTotal = runningTotal.Add(groupTotal)
		candidatesSeen = append(candidatesSeen, group.candidates...)
	}
	return eliminations
}
