package tabulator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/openrcv/tally/internal/decimal"
	"github.com/openrcv/tally/internal/errors"
)

// Engine drives a single tabulation: it owns the ballot scratch state and
// the histories for its lifetime and is not safe for concurrent use. The
// whole computation is synchronous; a cooperative cancel signal is checked
// once per round.
type Engine struct {
	rules    *Rules
	ballots  []Ballot
	states   []ballotState
	arith    decimal.Context
	observer Observer
	resolver TieBreakResolver
	rng      *rand.Rand

	declared  map[string]bool
	precincts []string

	currentRound         int
	roundTallies         map[int]map[string]decimal.Decimal
	precinctRoundTallies map[string]map[int]map[string]decimal.Decimal
	winners              []CandidateRound
	winnerRounds         map[string]int
	eliminations         []CandidateRound
	eliminatedRounds     map[string]int
	transfers            *TallyTransfers
	residualSurplus      map[int]decimal.Decimal
	threshold            decimal.Decimal
}

// NewEngine validates the rules and prepares a tabulation over the given
// ballots. A nil observer discards events; a nil resolver makes
// interactive tie-break modes fail with a TieBreakRequired error.
func NewEngine(rules *Rules, ballots []Ballot, observer Observer, resolver TieBreakResolver) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	arith, err := decimal.NewContext(rules.DecimalPlaces)
	if err != nil {
		return nil, err
	}
	if observer == nil {
		observer = NopObserver{}
	}

	declared := make(map[string]bool, len(rules.Candidates))
	for _, candidate := range rules.Candidates {
		declared[candidate] = true
	}

	e := &Engine{
		rules:                rules,
		ballots:              ballots,
		states:               newBallotStates(len(ballots)),
		arith:                arith,
		observer:             observer,
		resolver:             resolver,
		declared:             declared,
		roundTallies:         make(map[int]map[string]decimal.Decimal),
		precinctRoundTallies: make(map[string]map[int]map[string]decimal.Decimal),
		winnerRounds:         make(map[string]int),
		eliminatedRounds:     make(map[string]int),
		transfers:            NewTallyTransfers(),
		residualSurplus:      make(map[int]decimal.Decimal),
	}
	if rules.RandomSeed != nil {
		e.rng = rand.New(rand.NewSource(*rules.RandomSeed))
	}
	if rules.TabulateByPrecinct {
		e.initPrecincts()
	}
	return e, nil
}

// initPrecincts collects the distinct precinct identifiers present in the
// ballot set, in sorted order.
func (e *Engine) initPrecincts() {
	seen := make(map[string]bool)
	for i := range e.ballots {
		precinct := e.ballots[i].Precinct
		if precinct != "" && !seen[precinct] {
			seen[precinct] = true
			e.precincts = append(e.precincts, precinct)
		}
	}
	sort.Strings(e.precincts)
	for _, precinct := range e.precincts {
		e.precinctRoundTallies[precinct] = make(map[int]map[string]decimal.Decimal)
	}
}

// Tabulate runs rounds until the active mode's stopping condition holds
// and returns the complete results. On cancellation no partial results are
// returned.
func (e *Engine) Tabulate(ctx context.Context) (*Results, error) {
	if e.currentRound != 0 {
		return nil, errors.Internalf("engine cannot be reused; construct a new one")
	}

	for e.shouldContinue() {
		if ctx.Err() != nil {
			return nil, errors.Cancelled("tabulation cancelled")
		}
		e.currentRound++
		round := e.currentRound
		e.observer.OnEvent(Event{Kind: EventRoundStarted, Round: round})

		roundTally := e.computeRoundTally()
		e.roundTallies[round] = roundTally
		if round == 1 {
			e.residualSurplus[round] = decimal.Zero
		} else {
			e.residualSurplus[round] = e.residualSurplus[round-1]
		}

		// The threshold in a multi-seat contest is locked to the first
		// round's continuing votes; a single-seat contest tracks the
		// current round.
		if round == 1 || e.rules.NumberOfWinners == 1 {
			e.setThreshold(roundTally)
		}
		e.observer.OnEvent(Event{Kind: EventTallyComputed, Round: round, Tally: copyTally(roundTally)})

		groups := buildTallyGroups(roundTally, nil)
		roundWinners, err := e.identifyWinners(roundTally, groups)
		if err != nil {
			return nil, err
		}

		if len(roundWinners) > 0 {
			for _, winner := range roundWinners {
				e.winnerRounds[winner] = round
				e.winners = append(e.winners, CandidateRound{Candidate: winner, Round: round})
				e.observer.OnEvent(Event{
					Kind:      EventCandidateWon,
					Round:     round,
					Candidate: winner,
					Value:     roundTally[winner].String(),
				})
			}
			if e.rules.NumberOfWinners > 1 && !e.rules.WinnerElectionMode.isBottomsUp() {
				e.transferSurplus(roundWinners, roundTally)
			}
		} else if e.needsElimination() {
			roundEliminations, err := e.selectEliminations(roundTally, groups)
			if err != nil {
				return nil, err
			}
			if len(roundEliminations) == 0 {
				return nil, errors.Internalf("round %d selected no candidate to eliminate", round)
			}
			for _, loser := range roundEliminations {
				e.eliminatedRounds[loser] = round
				e.eliminations = append(e.eliminations, CandidateRound{Candidate: loser, Round: round})
			}
		}

		if e.rules.NumberOfWinners > 1 {
			e.updatePastWinnerTallies()
		}
	}

	e.observer.OnEvent(Event{Kind: EventTabulationComplete, Round: e.currentRound})
	return e.buildResults(), nil
}

// numCandidates is the count of candidates actually in the contest, i.e.
// declared minus excluded.
func (e *Engine) numCandidates() int {
	return len(e.rules.Candidates) - len(e.rules.Excluded)
}

// shouldContinue applies the active mode's stopping condition.
func (e *Engine) shouldContinue() bool {
	if e.rules.WinnerElectionMode == MultiSeatBottomsUpThreshold {
		// eliminate until the percentage threshold elects; then stop.
		return len(e.winners) == 0
	}

	numEliminated := len(e.eliminatedRounds)
	numWinners := len(e.winnerRounds)

	if e.rules.ContinueUntilTwoCandidatesRemain {
		// Keep going while more than two candidates are alive, plus one
		// final round after the last elimination to show the
		// redistribution.
		return numEliminated+numWinners+1 < e.numCandidates() ||
			e.eliminationHappenedIn(e.currentRound)
	}

	// Keep going while seats remain. A multi-seat contest also tabulates
	// one extra round after the last winner so the final surplus
	// redistribution is visible, unless bottoms-up is enabled.
	return numWinners < e.rules.NumberOfWinners ||
		(e.rules.NumberOfWinners > 1 &&
			e.winnerDeclaredIn(e.currentRound) &&
			!e.rules.WinnerElectionMode.isBottomsUp())
}

func (e *Engine) eliminationHappenedIn(round int) bool {
	for _, cr := range e.eliminations {
		if cr.Round == round {
			return true
		}
	}
	return false
}

func (e *Engine) winnerDeclaredIn(round int) bool {
	for _, cr := range e.winners {
		if cr.Round == round {
			return true
		}
	}
	return false
}

// needsElimination reports whether a no-winner round must eliminate.
func (e *Engine) needsElimination() bool {
	if e.rules.WinnerElectionMode == MultiSeatBottomsUpThreshold {
		return len(e.winners) == 0
	}
	return len(e.winnerRounds) < e.rules.NumberOfWinners ||
		(e.rules.ContinueUntilTwoCandidatesRemain &&
			len(e.eliminatedRounds) < e.numCandidates()-2)
}

// candidateStatus derives a candidate's standing from the histories.
func (e *Engine) candidateStatus(candidate string) CandidateStatus {
	switch {
	case e.rules.IsExcluded(candidate):
		return StatusExcluded
	case !e.declared[candidate] || candidate == ExplicitOvervote:
		return StatusInvalid
	default:
		if _, won := e.winnerRounds[candidate]; won {
			return StatusWinner
		}
		if _, out := e.eliminatedRounds[candidate]; out {
			return StatusEliminated
		}
		return StatusContinuing
	}
}

// isContinuingForSelection reports whether ballots may count for the
// candidate this round. Past winners stay selectable under
// continueUntilTwoCandidatesRemain so the final redistribution is shown.
func (e *Engine) isContinuingForSelection(candidate string) bool {
	status := e.candidateStatus(candidate)
	return status == StatusContinuing ||
		(status == StatusWinner && e.rules.ContinueUntilTwoCandidatesRemain)
}

// newTally creates a tally with a zero entry for every candidate ballots
// may currently count for.
func (e *Engine) newTally() map[string]decimal.Decimal {
	tally := make(map[string]decimal.Decimal)
	for _, candidate := range e.rules.Candidates {
		if e.isContinuingForSelection(candidate) {
			tally[candidate] = decimal.Zero
		}
	}
	return tally
}

// computeRoundTally passes over every ballot to determine who it counts
// for this round. Ballots whose recipient is still continuing roll over;
// the rest are re-interpreted against the current statuses and either
// transfer or exhaust. By-precinct tallies accumulate in the same pass.
func (e *Engine) computeRoundTally() map[string]decimal.Decimal {
	round := e.currentRound
	roundTally := e.newTally()

	var precinctTallies map[string]map[string]decimal.Decimal
	if e.rules.TabulateByPrecinct {
		precinctTallies = make(map[string]map[string]decimal.Decimal, len(e.precincts))
		for _, precinct := range e.precincts {
			precinctTallies[precinct] = e.newTally()
		}
	}

	in := &interpreter{rules: e.rules, isContinuing: e.isContinuingForSelection}

	for i := range e.ballots {
		ballot := &e.ballots[i]
		state := &e.states[i]
		if state.exhausted {
			continue
		}

		if state.recipient != "" && e.isContinuingForSelection(state.recipient) {
			e.incrementTallies(roundTally, precinctTallies, state.recipient, state.value, ballot.Precinct)
			state.recordOutcome(round, true, state.recipient, "")
			continue
		}

		verdict := in.decide(ballot)
		if verdict.candidate != "" {
			e.recordSelection(ballot, state, verdict.candidate, "")
			e.incrementTallies(roundTally, precinctTallies, verdict.candidate, state.value, ballot.Precinct)
		} else {
			e.recordSelection(ballot, state, "", verdict.exhaustReason)
		}
	}

	if e.rules.TabulateByPrecinct {
		for precinct, tally := range precinctTallies {
			e.precinctRoundTallies[precinct][round] = tally
		}
	}
	return roundTally
}

// recordSelection moves a ballot to a new recipient (or exhausts it),
// recording the transfer and the audit outcome.
func (e *Engine) recordSelection(ballot *Ballot, state *ballotState, candidate, reason string) {
	e.transfers.Add(e.currentRound, state.recipient, candidate, state.value)
	state.recipient = candidate
	if candidate == "" {
		state.exhausted = true
		state.recordOutcome(e.currentRound, false, "", reason)
		e.observer.OnEvent(Event{
			Kind:     EventBallotExhausted,
			Round:    e.currentRound,
			BallotID: ballot.ID,
			Reason:   reason,
			Value:    state.value.String(),
		})
		return
	}
	state.recordOutcome(e.currentRound, true, candidate, "")
}

// incrementTallies adds a ballot's current value to the round tally and,
// when enabled, the matching precinct tally.
func (e *Engine) incrementTallies(
	roundTally map[string]decimal.Decimal,
	precinctTallies map[string]map[string]decimal.Decimal,
	candidate string,
	value decimal.Decimal,
	precinct string,
) {
	roundTally[candidate] = roundTally[candidate].Add(value)
	if precinctTallies != nil && precinct != "" {
		precinctTallies[precinct][candidate] = precinctTallies[precinct][candidate].Add(value)
	}
}

// setThreshold recomputes the winning threshold from the round's total
// continuing votes.
func (e *Engine) setThreshold(roundTally map[string]decimal.Decimal) {
	totalVotes := decimal.Zero
	for _, votes := range roundTally {
		totalVotes = totalVotes.Add(votes)
	}
	e.threshold = computeThreshold(totalVotes, e.rules, e.arith)
	e.observer.OnEvent(Event{
		Kind:  EventThresholdSet,
		Round: e.currentRound,
		Value: e.threshold.String(),
	})
}

// identifyWinners applies the active election mode to the round tally.
func (e *Engine) identifyWinners(
	roundTally map[string]decimal.Decimal, groups tallyGroups,
) ([]string, error) {
	mode := e.rules.WinnerElectionMode

	if mode == MultiSeatBottomsUpThreshold {
		var selected []string
		for _, group := range groups {
			if group.tally.Cmp(e.threshold) >= 0 {
				selected = append(selected, group.candidates...)
			}
		}
		return selected, nil
	}

	if len(e.winnerRounds) >= e.rules.NumberOfWinners {
		return nil, nil
	}

	// If the continuing candidates exactly fill the remaining seats,
	// everyone left wins at once, in every mode.
	if len(roundTally) == e.rules.NumberOfWinners-len(e.winnerRounds) {
		selected := make([]string, 0, len(roundTally))
		for candidate := range roundTally {
			selected = append(selected, candidate)
		}
		sort.Strings(selected)
		return selected, nil
	}

	if mode == MultiSeatBottomsUpUntilN {
		// No threshold comparison; only the seat-fill rule above elects.
		return nil, nil
	}

	var crossed []string
	for _, group := range groups {
		if group.tally.Cmp(e.threshold) >= 0 {
			crossed = append(crossed, group.candidates...)
		}
	}

	if len(crossed) > 1 && mode == MultiSeatAllowOnlyOnePerRound {
		top := groups.highest()
		if len(top.candidates) == 1 {
			return top.candidates, nil
		}
		winner, err := e.breakTie(top.candidates, top.tally, true)
		if err != nil {
			return nil, err
		}
		return []string{winner}, nil
	}
	return crossed, nil
}

// transferSurplus redistributes the value above threshold for each winner
// declared this round. Every ballot held by the winner credits its
// retained share to the winner and continues at value x surplusFraction;
// truncation excess surfaces as residual surplus when the plateau is
// computed next round.
func (e *Engine) transferSurplus(roundWinners []string, roundTally map[string]decimal.Decimal) {
	for _, winner := range roundWinners {
		candidateVotes := roundTally[winner]
		extraVotes := candidateVotes.Sub(e.threshold)
		surplusFraction := decimal.Zero
		if extraVotes.IsPositive() {
			surplusFraction = e.arith.Div(extraVotes, candidateVotes)
		}
		e.observer.OnEvent(Event{
			Kind:      EventSurplusTransferred,
			Round:     e.currentRound,
			Candidate: winner,
			Value:     surplusFraction.String(),
		})
		for i := range e.states {
			state := &e.states[i]
			if state.recipient != winner {
				continue
			}
			transferable := e.arith.Mul(state.value, surplusFraction)
			state.addWinnerShare(winner, state.value.Sub(transferable))
			state.value = transferable
		}
	}
}

// updatePastWinnerTallies fills in plateau tallies for winners from
// earlier rounds. The regular pass only credits continuing candidates, so
// past winners' totals are carried here: winners declared before the
// previous round copy forward unchanged, while winners from the previous
// round are re-derived from the winner shares on every ballot, with any
// excess over threshold moved into residual surplus so the plateau equals
// the threshold exactly.
func (e *Engine) updatePastWinnerTallies() {
	round := e.currentRound
	roundTally := e.roundTallies[round]
	previousTally := e.roundTallies[round-1]

	var winnersToProcess []string
	requiringComputation := make(map[string]bool)
	for _, cr := range e.winners {
		if cr.Round == round {
			continue
		}
		winnersToProcess = append(winnersToProcess, cr.Candidate)
		if cr.Round == round-1 {
			requiringComputation[cr.Candidate] = true
		}
	}

	for _, winner := range winnersToProcess {
		if requiringComputation[winner] {
			roundTally[winner] = decimal.Zero
		} else {
			roundTally[winner] = previousTally[winner]
		}
	}

	if e.rules.TabulateByPrecinct {
		for _, precinct := range e.precincts {
			byRound := e.precinctRoundTallies[precinct]
			for _, winner := range winnersToProcess {
				if requiringComputation[winner] {
					byRound[round][winner] = decimal.Zero
				} else {
					byRound[round][winner] = byRound[round-1][winner]
				}
			}
		}
	}

	if len(requiringComputation) == 0 {
		return
	}

	for i := range e.ballots {
		state := &e.states[i]
		for winner, share := range state.winnerShares {
			if !requiringComputation[winner] {
				continue
			}
			roundTally[winner] = roundTally[winner].Add(share)
			if e.rules.TabulateByPrecinct && e.ballots[i].Precinct != "" {
				precinctTally := e.precinctRoundTallies[e.ballots[i].Precinct][round]
				precinctTally[winner] = precinctTally[winner].Add(share)
			}
		}
	}

	recomputed := make([]string, 0, len(requiringComputation))
	for winner := range requiringComputation {
		recomputed = append(recomputed, winner)
	}
	sort.Strings(recomputed)
	for _, winner := range recomputed {
		winnerResidual := roundTally[winner].Sub(e.threshold)
		if winnerResidual.IsPositive() {
			e.residualSurplus[round] = e.residualSurplus[round].Add(winnerResidual)
			roundTally[winner] = e.threshold
		}
	}
}

// selectEliminations picks this round's eliminations. The four strategies
// are mutually exclusive and tried in a fixed order: undeclared write-ins,
// the minimum vote threshold, batch elimination, then the single lowest
// candidate with a tie-break if needed.
func (e *Engine) selectEliminations(
	roundTally map[string]decimal.Decimal, groups tallyGroups,
) ([]string, error) {
	if eliminated := e.dropUndeclaredWriteIns(roundTally); len(eliminated) > 0 {
		return eliminated, nil
	}
	if eliminated := e.dropBelowMinimumThreshold(groups); len(eliminated) > 0 {
		return eliminated, nil
	}
	if eliminated := e.doBatchElimination(groups); len(eliminated) > 0 {
		return eliminated, nil
	}
	return e.doRegularElimination(groups)
}

// dropUndeclaredWriteIns eliminates the undeclared write-in label in round
// 1 when it holds any votes.
func (e *Engine) dropUndeclaredWriteIns(roundTally map[string]decimal.Decimal) []string {
	label := e.rules.UndeclaredWriteInLabel
	if e.currentRound != 1 || label == "" || !e.declared[label] {
		return nil
	}
	votes, tabulated := roundTally[label]
	if !tabulated || !votes.IsPositive() {
		return nil
	}
	e.observer.OnEvent(Event{
		Kind:      EventCandidateEliminated,
		Round:     1,
		Candidate: label,
		Reason:    "undeclared write-ins",
		Value:     votes.String(),
	})
	return []string{label}
}

// dropBelowMinimumThreshold eliminates every candidate strictly below the
// configured minimum vote threshold, possibly several at once.
func (e *Engine) dropBelowMinimumThreshold(groups tallyGroups) []string {
	minimum := e.rules.MinimumVoteThreshold
	if !minimum.IsPositive() || len(groups) == 0 || groups.lowest().tally.Cmp(minimum) >= 0 {
		return nil
	}
	var eliminated []string
	for _, group := range groups {
		if group.tally.Cmp(minimum) >= 0 {
			break
		}
		for _, candidate := range group.candidates {
			eliminated = append(eliminated, candidate)
			e.observer.OnEvent(Event{
				Kind:      EventCandidateEliminated,
				Round:     e.currentRound,
				Candidate: candidate,
				Reason:    "below minimum vote threshold",
				Value:     group.tally.String(),
			})
		}
	}
	return eliminated
}

// doBatchElimination applies batch elimination when enabled. A batch of
// one degenerates to regular elimination so the tie-break story is logged
// uniformly.
func (e *Engine) doBatchElimination(groups tallyGroups) []string {
	if !e.rules.BatchElimination {
		return nil
	}
	batch := runBatchElimination(groups, e.arith)
	if len(batch) <= 1 {
		return nil
	}
	eliminated := make([]string, 0, len(batch))
	for _, elimination := range batch {
		eliminated = append(eliminated, elimination.Candidate)
		e.observer.OnEvent(Event{
			Kind:      EventCandidateEliminated,
			Round:     e.currentRound,
			Candidate: elimination.Candidate,
			Reason:    "batch elimination",
			Explanation: fmt.Sprintf(
				"Running total %s could not reach the next-highest count %s.",
				elimination.RunningTotal.String(), elimination.NextHighestTally.String()),
		})
	}
	return eliminated
}

// doRegularElimination removes the single candidate with the lowest tally,
// breaking a tie if needed.
func (e *Engine) doRegularElimination(groups tallyGroups) ([]string, error) {
	if len(groups) == 0 {
		return nil, errors.Internalf("round %d has no continuing candidates to eliminate", e.currentRound)
	}
	lowest := groups.lowest()
	loser := lowest.candidates[0]
	if len(lowest.candidates) > 1 {
		selected, err := e.breakTie(lowest.candidates, lowest.tally, false)
		if err != nil {
			return nil, err
		}
		loser = selected
	}
	e.observer.OnEvent(Event{
		Kind:      EventCandidateEliminated,
		Round:     e.currentRound,
		Candidate: loser,
		Reason:    "lowest tally",
		Value:     lowest.tally.String(),
	})
	return []string{loser}, nil
}

// breakTie resolves a tie among candidates at the given tally, emitting
// the resolution and its explanation to the observer.
func (e *Engine) breakTie(tied []string, tally decimal.Decimal, selectingWinner bool) (string, error) {
	sortedTied := append([]string(nil), tied...)
	sort.Strings(sortedTied)

	tb := &tieBreak{
		tied:            sortedTied,
		selectingWinner: selectingWinner,
		mode:            e.rules.TiebreakMode,
		round:           e.currentRound,
		tally:           tally,
		priorTally: func(round int, candidate string) decimal.Decimal {
			return e.roundTallies[round][candidate]
		},
		permutation: e.rules.CandidatePermutation,
		rng:         e.rng,
		resolver:    e.resolver,
	}
	selected, err := tb.selectCandidate()
	if err != nil {
		return "", err
	}
	e.observer.OnEvent(Event{
		Kind:        EventTieBreakResolved,
		Round:       e.currentRound,
		Candidate:   selected,
		Reason:      fmt.Sprintf("tied with %s at %s", tb.otherCandidates(selected), tally.String()),
		Explanation: tb.explanation,
	})
	return selected, nil
}

// buildResults assembles the engine's histories into the output value.
func (e *Engine) buildResults() *Results {
	results := &Results{
		ContestName:  e.rules.ContestName,
		Threshold:    e.threshold,
		Winners:      append([]CandidateRound(nil), e.winners...),
		Eliminations: append([]CandidateRound(nil), e.eliminations...),
	}

	for round := 1; round <= e.currentRound; round++ {
		roundResult := RoundResult{
			Number:          round,
			Tallies:         copyTally(e.roundTallies[round]),
			Transfers:       e.transfers.ForRound(round),
			ResidualSurplus: e.residualSurplus[round],
		}
		if e.rules.TabulateByPrecinct {
			roundResult.PrecinctTallies = make(map[string]map[string]decimal.Decimal, len(e.precincts))
			for _, precinct := range e.precincts {
				roundResult.PrecinctTallies[precinct] = copyTally(e.precinctRoundTallies[precinct][round])
			}
		}
		results.Rounds = append(results.Rounds, roundResult)
	}

	results.BallotAudits = make([]BallotAudit, len(e.ballots))
	for i := range e.ballots {
		results.BallotAudits[i] = BallotAudit{
			BallotID: e.ballots[i].ID,
			Rounds:   append([]BallotRoundOutcome(nil), e.states[i].outcomes...),
		}
	}
	return results
}

func copyTally(tally map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(tally))
	for candidate, votes := range tally {
		out[candidate] = votes
	}
	return out
}
