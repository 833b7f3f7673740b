package tabulator

import "github.com/openrcv/tally/internal/decimal"

// TallyTransfers records, per round, how vote value moved from a source
// candidate (or the initial bucket) to a destination candidate (or
// exhaustion).
type TallyTransfers struct {
	rounds map[int]map[string]map[string]decimal.Decimal
}

// NewTallyTransfers creates an empty transfer record.
func NewTallyTransfers() *TallyTransfers {
	return &TallyTransfers{rounds: make(map[int]map[string]map[string]decimal.Decimal)}
}

// Add accumulates a transfer. An empty source means the ballot's first
// assignment; an empty destination means the ballot exhausted.
func (t *TallyTransfers) Add(round int, source, destination string, value decimal.Decimal) {
	if source == "" {
		source = TransferSourceInitial
	}
	if destination == "" {
		destination = TransferDestExhausted
	}
	bySource := t.rounds[round]
	if bySource == nil {
		bySource = make(map[string]map[string]decimal.Decimal)
		t.rounds[round] = bySource
	}
	byDest := bySource[source]
	if byDest == nil {
		byDest = make(map[string]decimal.Decimal)
		bySource[source] = byDest
	}
	byDest[destination] = byDest[destination].Add(value)
}

// ForRound returns a copy of the transfers recorded for a round. The copy
// keeps callers from mutating engine-owned state.
func (t *TallyTransfers) ForRound(round int) map[string]map[string]decimal.Decimal {
	bySource := t.rounds[round]
	if bySource == nil {
		return nil
	}
	out := make(map[string]map[string]decimal.Decimal, len(bySource))
	for source, byDest := range bySource {
		destCopy := make(map[string]decimal.Decimal, len(byDest))
		for dest, value := range byDest {
			destCopy[dest] = value
		}
		out[source] = destCopy
	}
	return out
}
