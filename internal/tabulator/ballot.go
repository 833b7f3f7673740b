package tabulator

import (
	"sort"

	"github.com/openrcv/tally/internal/decimal"
)

// RankEntry is one rank on a ballot and the candidate(s) marked at it.
// Some input formats allow multiple marks at a single rank.
type RankEntry struct {
	Rank       int
	Candidates []string
}

// Rankings is a ballot's ordered preference expression: rank entries sorted
// by ascending rank (most preferred first). Ranks may be sparse.
type Rankings []RankEntry

// NewRankings builds a normalized Rankings from a rank -> candidates map.
// Entries are ordered by rank and candidates within a rank are sorted so
// that iteration order is deterministic regardless of input order.
func NewRankings(byRank map[int][]string) Rankings {
	ranks := make([]int, 0, len(byRank))
	for rank := range byRank {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	rankings := make(Rankings, 0, len(ranks))
	for _, rank := range ranks {
		candidates := append([]string(nil), byRank[rank]...)
		sort.Strings(candidates)
		rankings = append(rankings, RankEntry{Rank: rank, Candidates: candidates})
	}
	return rankings
}

// LastRank returns the highest rank present, or 0 for an empty ballot.
func (r Rankings) LastRank() int {
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1].Rank
}

// Ballot is a single cast-vote record's immutable ranked expression.
// Per-tabulation scratch state lives in a parallel array owned by the
// engine, so a ballot set can be tabulated repeatedly (sequential mode)
// without copying.
type Ballot struct {
	ID       string
	Precinct string
	Rankings Rankings
}

// ballotState is the per-tabulation scratch state for one ballot.
type ballotState struct {
	// recipient is the candidate currently credited with this ballot,
	// or "" before the first assignment and after exhaustion.
	recipient string
	// value is the ballot's current fractional transfer value in [0, 1].
	value decimal.Decimal
	// exhausted is monotonic: once set it never reverts.
	exhausted bool
	// winnerShares maps each past winner to the fractional value this
	// ballot has permanently credited to them.
	winnerShares map[string]decimal.Decimal
	// outcomes is the per-round audit trail for this ballot.
	outcomes []BallotRoundOutcome
}

// newBallotStates initializes scratch state for a ballot set: full value,
// no recipient, not exhausted.
func newBallotStates(n int) []ballotState {
	states := make([]ballotState, n)
	for i := range states {
		states[i].value = decimal.One
	}
	return states
}

// recordOutcome appends one round's audit entry for this ballot.
func (s *ballotState) recordOutcome(round int, counted bool, candidate, reason string) {
	s.outcomes = append(s.outcomes, BallotRoundOutcome{
		Round:     round,
		Counted:   counted,
		Candidate: candidate,
		Reason:    reason,
		Value:     s.value,
	})
}

// addWinnerShare credits part of this ballot's value to a winner.
func (s *ballotState) addWinnerShare(winner string, share decimal.Decimal) {
	if s.winnerShares == nil {
		s.winnerShares = make(map[string]decimal.Decimal)
	}
	s.winnerShares[winner] = s.winnerShares[winner].Add(share)
}
