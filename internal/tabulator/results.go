package tabulator

import "github.com/openrcv/tally/internal/decimal"

// CandidateRound pairs a candidate with the round an outcome happened in.
// Slices of these preserve the order outcomes were recorded, which is part
// of the audit contract.
type CandidateRound struct {
	Candidate string `json:"candidate"`
	Round     int    `json:"round"`
}

// RoundResult is everything recorded for one tabulation round.
type RoundResult struct {
	Number int `json:"number"`
	// Tallies maps every candidate credited this round (continuing
	// candidates plus, in multi-seat contests, past winners at their
	// plateau) to their exact vote total.
	Tallies map[string]decimal.Decimal `json:"tallies"`
	// PrecinctTallies mirrors Tallies per precinct when by-precinct
	// tabulation is enabled.
	PrecinctTallies map[string]map[string]decimal.Decimal `json:"precinct_tallies,omitempty"`
	// Transfers maps source -> destination -> value for votes that moved
	// this round. Sources are candidate identifiers or
	// TransferSourceInitial; destinations are candidate identifiers or
	// TransferDestExhausted.
	Transfers map[string]map[string]decimal.Decimal `json:"transfers,omitempty"`
	// ResidualSurplus is the cumulative value lost to truncation during
	// surplus transfers, as of this round.
	ResidualSurplus decimal.Decimal `json:"residual_surplus"`
}

// BallotRoundOutcome is one round's outcome for one ballot.
type BallotRoundOutcome struct {
	Round   int    `json:"round"`
	Counted bool   `json:"counted"`
	// Candidate is set when Counted; Reason is the exhaustion reason when not.
	Candidate string          `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Value     decimal.Decimal `json:"value"`
}

// BallotAudit is the complete per-round trail for one ballot.
type BallotAudit struct {
	BallotID string               `json:"ballot_id"`
	Rounds   []BallotRoundOutcome `json:"rounds"`
}

// Results is the complete output of one tabulation.
type Results struct {
	ContestName string          `json:"contest_name"`
	Threshold   decimal.Decimal `json:"threshold"`
	// Rounds holds round r at index r-1.
	Rounds []RoundResult `json:"rounds"`
	// Winners and Eliminations preserve declaration order.
	Winners      []CandidateRound `json:"winners"`
	Eliminations []CandidateRound `json:"eliminations"`
	BallotAudits []BallotAudit    `json:"ballot_audits"`
}

// NumRounds returns how many rounds the tabulation ran.
func (r *Results) NumRounds() int {
	return len(r.Rounds)
}

// WinnerToRound returns the winning round per candidate.
func (r *Results) WinnerToRound() map[string]int {
	m := make(map[string]int, len(r.Winners))
	for _, w := range r.Winners {
		m[w.Candidate] = w.Round
	}
	return m
}

// EliminationToRound returns the elimination round per candidate.
func (r *Results) EliminationToRound() map[string]int {
	m := make(map[string]int, len(r.Eliminations))
	for _, e := range r.Eliminations {
		m[e.Candidate] = e.Round
	}
	return m
}

// WinnerList returns the winners in declaration order.
func (r *Results) WinnerList() []string {
	winners := make([]string, 0, len(r.Winners))
	for _, w := range r.Winners {
		winners = append(winners, w.Candidate)
	}
	return winners
}
