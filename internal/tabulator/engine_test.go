package tabulator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/openrcv/tally/internal/decimal"
	"github.com/openrcv/tally/internal/errors"
	"github.com/openrcv/tally/internal/tabulator"
)

func singleWinnerRules(candidates ...string) *tabulator.Rules {
	seed := int64(1)
	return &tabulator.Rules{
		ContestName:        "test contest",
		Candidates:         candidates,
		NumberOfWinners:    1,
		WinnerElectionMode: tabulator.SingleWinner,
		MaxRankings:        len(candidates),
		DecimalPlaces:      4,
		RandomSeed:         &seed,
	}
}

// rankedBallots builds n identical ballots ranking the given candidates in
// order, one per rank starting at 1.
func rankedBallots(t *testing.T, n int, prefix string, preferences ...string) []tabulator.Ballot {
	t.Helper()
	byRank := make(map[int][]string, len(preferences))
	for i, candidate := range preferences {
		byRank[i+1] = []string{candidate}
	}
	ballots := make([]tabulator.Ballot, n)
	for i := range ballots {
		ballots[i] = tabulator.Ballot{
			ID:       fmt.Sprintf("%s-%d", prefix, i+1),
			Rankings: tabulator.NewRankings(byRank),
		}
	}
	return ballots
}

func runTabulation(t *testing.T, rules *tabulator.Rules, ballots []tabulator.Ballot) *tabulator.Results {
	t.Helper()
	engine, err := tabulator.NewEngine(rules, ballots, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	results, err := engine.Tabulate(context.Background())
	if err != nil {
		t.Fatalf("Tabulate failed: %v", err)
	}
	return results
}

// checkConservation verifies that for every round the tallies plus the
// residual surplus plus the value held by exhausted ballots equals the
// total initial ballot value.
func checkConservation(t *testing.T, results *tabulator.Results, numBallots int) {
	t.Helper()
	total := decimal.FromInt(numBallots)
	for _, round := range results.Rounds {
		sum := round.ResidualSurplus
		for _, votes := range round.Tallies {
			sum = sum.Add(votes)
		}
		for _, audit := range results.BallotAudits {
			for _, outcome := range audit.Rounds {
				if !outcome.Counted && outcome.Round <= round.Number {
					sum = sum.Add(outcome.Value)
				}
			}
		}
		if !sum.Equal(total) {
			t.Errorf("round %d conservation broken: accounted %s of %s ballots",
				round.Number, sum.String(), total.String())
		}
	}
}

func tallyString(t *testing.T, results *tabulator.Results, round int, candidate string) string {
	t.Helper()
	if round < 1 || round > len(results.Rounds) {
		t.Fatalf("no round %d in results", round)
	}
	votes, ok := results.Rounds[round-1].Tallies[candidate]
	if !ok {
		t.Fatalf("candidate %s has no tally in round %d", candidate, round)
	}
	return votes.String()
}

// TestTabulate_SingleWinnerMajorityInRoundTwo tests scenario S1: nobody
// reaches the majority threshold in round 1, the lowest candidate is
// eliminated, and the transfers decide round 2
func TestTabulate_SingleWinnerMajorityInRoundTwo(t *testing.T) {
	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 5, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 3, "b", "B", "A")...)
	ballots = append(ballots, rankedBallots(t, 2, "c", "C", "A")...)

	results := runTabulation(t, singleWinnerRules("A", "B", "C"), ballots)

	if results.Threshold.String() != "6" {
		t.Errorf("threshold = %s, want 6", results.Threshold.String())
	}
	if results.NumRounds() != 2 {
		t.Fatalf("expected 2 rounds, got %d", results.NumRounds())
	}
	if got := tallyString(t, results, 1, "A"); got != "5" {
		t.Errorf("round 1 tally for A = %s, want 5", got)
	}
	if len(results.Eliminations) != 1 || results.Eliminations[0] != (tabulator.CandidateRound{Candidate: "C", Round: 1}) {
		t.Errorf("expected C eliminated in round 1, got %+v", results.Eliminations)
	}
	if len(results.Winners) != 1 || results.Winners[0] != (tabulator.CandidateRound{Candidate: "A", Round: 2}) {
		t.Errorf("expected A winning in round 2, got %+v", results.Winners)
	}
	if got := tallyString(t, results, 2, "A"); got != "7" {
		t.Errorf("round 2 tally for A = %s, want 7", got)
	}

	transfers := results.Rounds[1].Transfers
	if moved := transfers["C"]["A"]; !moved.Equal(decimal.FromInt(2)) {
		t.Errorf("round 2 transfer C->A = %s, want 2", moved.String())
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_OvervoteExhaustsBallot tests scenario S2: a ballot ranking
// two continuing candidates at rank 1 exhausts with reason overvote
func TestTabulate_OvervoteExhaustsBallot(t *testing.T) {
	rules := singleWinnerRules("A", "B")
	rules.OvervoteRule = tabulator.ExhaustIfMultipleContinuing

	ballots := rankedBallots(t, 2, "a", "A")
	ballots = append(ballots, rankedBallots(t, 1, "b", "B")...)
	ballots = append(ballots, tabulator.Ballot{
		ID:       "over-1",
		Rankings: tabulator.NewRankings(map[int][]string{1: {"A", "B"}}),
	})

	results := runTabulation(t, rules, ballots)

	var overAudit *tabulator.BallotAudit
	for i := range results.BallotAudits {
		if results.BallotAudits[i].BallotID == "over-1" {
			overAudit = &results.BallotAudits[i]
		}
	}
	if overAudit == nil || len(overAudit.Rounds) == 0 {
		t.Fatal("no audit trail for the overvoted ballot")
	}
	outcome := overAudit.Rounds[0]
	if outcome.Counted || outcome.Reason != tabulator.ReasonOvervote || outcome.Round != 1 {
		t.Errorf("expected round-1 overvote exhaustion, got %+v", outcome)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_SkippedRankExhaustion tests scenario S3 end to end: the
// ballot with a too-wide gap exhausts as an undervote once its first
// choice is eliminated
func TestTabulate_SkippedRankExhaustion(t *testing.T) {
	rules := singleWinnerRules("A", "B", "C")
	rules.MaxRankings = 4
	maxSkipped := 1
	rules.MaxSkippedRanks = &maxSkipped

	ballots := []tabulator.Ballot{{
		ID:       "gap-1",
		Rankings: tabulator.NewRankings(map[int][]string{1: {"A"}, 4: {"B"}}),
	}}
	ballots = append(ballots, rankedBallots(t, 2, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 3, "c", "C")...)

	results := runTabulation(t, rules, ballots)

	if len(results.Eliminations) == 0 || results.Eliminations[0].Candidate != "A" {
		t.Fatalf("expected A eliminated first, got %+v", results.Eliminations)
	}
	var gapAudit *tabulator.BallotAudit
	for i := range results.BallotAudits {
		if results.BallotAudits[i].BallotID == "gap-1" {
			gapAudit = &results.BallotAudits[i]
		}
	}
	last := gapAudit.Rounds[len(gapAudit.Rounds)-1]
	if last.Counted || last.Reason != tabulator.ReasonUndervote {
		t.Errorf("expected undervote exhaustion after A eliminated, got %+v", last)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_BatchElimination tests scenario S4's shape end to end: the
// three lowest candidates cannot collectively overtake anyone above them
// and all go in one round
func TestTabulate_BatchElimination(t *testing.T) {
	rules := singleWinnerRules("A", "B", "C", "D", "E")
	rules.BatchElimination = true

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 100, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 95, "e", "E", "A")...)
	ballots = append(ballots, rankedBallots(t, 1, "b", "B", "A")...)
	ballots = append(ballots, rankedBallots(t, 2, "c", "C", "A")...)
	ballots = append(ballots, rankedBallots(t, 3, "d", "D", "A")...)

	results := runTabulation(t, rules, ballots)

	if len(results.Eliminations) != 3 {
		t.Fatalf("expected 3 eliminations, got %+v", results.Eliminations)
	}
	wantOrder := []string{"B", "C", "D"}
	for i, elimination := range results.Eliminations {
		if elimination.Candidate != wantOrder[i] || elimination.Round != 1 {
			t.Errorf("elimination %d = %+v, want %s in round 1", i, elimination, wantOrder[i])
		}
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_MultiSeatSurplusTransfer tests scenario S5: two winners in
// round 1, fractional surplus transfer at scale 4, and the residual
// surplus from truncation
func TestTabulate_MultiSeatSurplusTransfer(t *testing.T) {
	seed := int64(1)
	rules := &tabulator.Rules{
		ContestName:        "two seats",
		Candidates:         []string{"A", "B", "C"},
		NumberOfWinners:    2,
		WinnerElectionMode: tabulator.MultiSeatAllowMultiplePerRound,
		MaxRankings:        3,
		DecimalPlaces:      4,
		RandomSeed:         &seed,
	}

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 60, "a", "A", "C")...)
	ballots = append(ballots, rankedBallots(t, 34, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 6, "c", "C")...)

	results := runTabulation(t, rules, ballots)

	if results.Threshold.String() != "34" {
		t.Errorf("threshold = %s, want 34", results.Threshold.String())
	}
	winnerRounds := results.WinnerToRound()
	if winnerRounds["A"] != 1 || winnerRounds["B"] != 1 {
		t.Fatalf("expected A and B winning round 1, got %+v", results.Winners)
	}
	if results.NumRounds() != 2 {
		t.Fatalf("expected 2 rounds, got %d", results.NumRounds())
	}

	// A's 60 ballots each continue to C at 26/60 truncated = 0.4333.
	if got := tallyString(t, results, 2, "C"); got != "31.998" {
		t.Errorf("round 2 tally for C = %s, want 31.998", got)
	}
	// Winner plateaus equal the threshold exactly.
	if got := tallyString(t, results, 2, "A"); got != "34" {
		t.Errorf("round 2 plateau for A = %s, want 34", got)
	}
	if got := tallyString(t, results, 2, "B"); got != "34" {
		t.Errorf("round 2 plateau for B = %s, want 34", got)
	}
	// 60 x (26/60 - 0.4333) of value vanishes to truncation.
	if got := results.Rounds[1].ResidualSurplus.String(); got != "0.002" {
		t.Errorf("round 2 residual surplus = %s, want 0.002", got)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_TieBrokenByPriorRound tests scenario S6 end to end: the
// candidate who trailed in the earlier round loses the tie-break, with no
// random draw involved
func TestTabulate_TieBrokenByPriorRound(t *testing.T) {
	rules := singleWinnerRules("A", "B", "C", "D")
	rules.TiebreakMode = tabulator.TiebreakPreviousRoundCountsThenRandom
	seed := int64(99)
	rules.RandomSeed = &seed

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 4, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 3, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 2, "c", "C", "A")...)
	ballots = append(ballots, rankedBallots(t, 1, "d", "D", "C", "A")...)

	results := runTabulation(t, rules, ballots)

	// Round 1: A=4 B=3 C=2 D=1, D eliminated. Round 2: B and C tie at 3;
	// C had 2 in round 1 against B's 3, so C loses.
	eliminationRounds := results.EliminationToRound()
	if eliminationRounds["D"] != 1 {
		t.Errorf("expected D eliminated in round 1, got %+v", results.Eliminations)
	}
	if eliminationRounds["C"] != 2 {
		t.Errorf("expected C to lose the round-2 tie-break, got %+v", results.Eliminations)
	}
	if winners := results.WinnerList(); len(winners) != 1 || winners[0] != "A" {
		t.Errorf("expected A to win, got %v", winners)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_UndeclaredWriteInsDroppedFirst tests that the UWI label is
// eliminated in round 1 before any other elimination logic
func TestTabulate_UndeclaredWriteInsDroppedFirst(t *testing.T) {
	const uwi = "Undeclared Write-ins"
	rules := singleWinnerRules("A", "B", uwi)
	rules.UndeclaredWriteInLabel = uwi

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 3, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 2, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 2, "u", uwi, "A")...)

	results := runTabulation(t, rules, ballots)

	if len(results.Eliminations) == 0 ||
		results.Eliminations[0] != (tabulator.CandidateRound{Candidate: uwi, Round: 1}) {
		t.Fatalf("expected the write-in label out in round 1, got %+v", results.Eliminations)
	}
	if winners := results.WinnerList(); len(winners) != 1 || winners[0] != "A" {
		t.Errorf("expected A to win, got %v", winners)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_MinimumVoteThreshold tests that every candidate below the
// configured minimum goes in a single round
func TestTabulate_MinimumVoteThreshold(t *testing.T) {
	rules := singleWinnerRules("A", "B", "C", "D")
	rules.MinimumVoteThreshold = decimal.FromInt(2)

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 4, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 3, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 1, "c", "C", "A")...)
	ballots = append(ballots, rankedBallots(t, 1, "d", "D", "B")...)

	results := runTabulation(t, rules, ballots)

	eliminationRounds := results.EliminationToRound()
	if eliminationRounds["C"] != 1 || eliminationRounds["D"] != 1 {
		t.Fatalf("expected C and D dropped in round 1, got %+v", results.Eliminations)
	}
	if winners := results.WinnerList(); len(winners) != 1 || winners[0] != "A" {
		t.Errorf("expected A to win, got %v", winners)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_ContinueUntilTwoCandidatesRemain tests that tabulation
// keeps eliminating after the winner is found and emits one final
// redistribution round
func TestTabulate_ContinueUntilTwoCandidatesRemain(t *testing.T) {
	rules := singleWinnerRules("A", "B", "C", "D")
	rules.ContinueUntilTwoCandidatesRemain = true

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 6, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 3, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 2, "c", "C", "B")...)

	results := runTabulation(t, rules, ballots)

	if len(results.Winners) != 1 || results.Winners[0] != (tabulator.CandidateRound{Candidate: "A", Round: 1}) {
		t.Fatalf("expected A winning round 1, got %+v", results.Winners)
	}
	if results.NumRounds() != 4 {
		t.Fatalf("expected 4 rounds, got %d", results.NumRounds())
	}
	eliminationRounds := results.EliminationToRound()
	if eliminationRounds["D"] != 2 || eliminationRounds["C"] != 3 {
		t.Errorf("unexpected elimination history: %+v", results.Eliminations)
	}
	// Final round shows the redistribution with only A and B left.
	if got := tallyString(t, results, 4, "B"); got != "5" {
		t.Errorf("round 4 tally for B = %s, want 5", got)
	}
	if got := tallyString(t, results, 4, "A"); got != "6" {
		t.Errorf("round 4 tally for A = %s, want 6", got)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_BottomsUpUntilN tests that bottoms-up elects only via the
// seat-fill rule, with no threshold comparison and no surplus round
func TestTabulate_BottomsUpUntilN(t *testing.T) {
	seed := int64(1)
	rules := &tabulator.Rules{
		ContestName:        "bottoms up",
		Candidates:         []string{"A", "B", "C", "D"},
		NumberOfWinners:    2,
		WinnerElectionMode: tabulator.MultiSeatBottomsUpUntilN,
		MaxRankings:        4,
		DecimalPlaces:      4,
		RandomSeed:         &seed,
	}

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 4, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 3, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 2, "c", "C", "B")...)
	ballots = append(ballots, rankedBallots(t, 1, "d", "D", "A")...)

	results := runTabulation(t, rules, ballots)

	winnerRounds := results.WinnerToRound()
	if winnerRounds["A"] != 3 || winnerRounds["B"] != 3 {
		t.Fatalf("expected A and B elected together in round 3, got %+v", results.Winners)
	}
	// No surplus round after the simultaneous election.
	if results.NumRounds() != 3 {
		t.Errorf("expected 3 rounds, got %d", results.NumRounds())
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_BottomsUpPercentageThreshold tests the percentage-threshold
// mode: eliminate until someone crosses, then halt
func TestTabulate_BottomsUpPercentageThreshold(t *testing.T) {
	half, err := decimal.Parse("0.5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	seed := int64(1)
	rules := &tabulator.Rules{
		ContestName:                  "threshold contest",
		Candidates:                   []string{"A", "B", "C", "D"},
		NumberOfWinners:              0,
		WinnerElectionMode:           tabulator.MultiSeatBottomsUpThreshold,
		BottomsUpPercentageThreshold: half,
		MaxRankings:                  4,
		DecimalPlaces:                4,
		RandomSeed:                   &seed,
	}

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 5, "a", "A")...)
	ballots = append(ballots, rankedBallots(t, 3, "b", "B", "A")...)
	ballots = append(ballots, rankedBallots(t, 2, "c", "C", "B")...)
	ballots = append(ballots, rankedBallots(t, 1, "d", "D", "A")...)

	results := runTabulation(t, rules, ballots)

	if results.Threshold.String() != "5.5" {
		t.Errorf("threshold = %s, want 5.5", results.Threshold.String())
	}
	if len(results.Winners) != 1 || results.Winners[0].Candidate != "A" {
		t.Fatalf("expected A to cross the percentage threshold, got %+v", results.Winners)
	}
	if results.Winners[0].Round != 2 || results.NumRounds() != 2 {
		t.Errorf("expected the engine to halt in round 2, got %d rounds", results.NumRounds())
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_AllowOnlyOnePerRound tests that when two candidates cross
// together only the higher one is elected that round
func TestTabulate_AllowOnlyOnePerRound(t *testing.T) {
	seed := int64(1)
	rules := &tabulator.Rules{
		ContestName:        "one per round",
		Candidates:         []string{"A", "B", "C"},
		NumberOfWinners:    2,
		WinnerElectionMode: tabulator.MultiSeatAllowOnlyOnePerRound,
		MaxRankings:        3,
		DecimalPlaces:      4,
		RandomSeed:         &seed,
	}

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 5, "a", "A", "B")...)
	ballots = append(ballots, rankedBallots(t, 4, "b", "B")...)
	ballots = append(ballots, rankedBallots(t, 1, "c", "C")...)

	results := runTabulation(t, rules, ballots)

	// Threshold is floor(10/3)+1 = 4; A (5) and B (4) both cross in round
	// 1 but only A is elected there; B follows in round 2.
	winnerRounds := results.WinnerToRound()
	if winnerRounds["A"] != 1 {
		t.Errorf("expected A elected in round 1, got %+v", results.Winners)
	}
	if winnerRounds["B"] != 2 {
		t.Errorf("expected B elected in round 2, got %+v", results.Winners)
	}
	// Plateaus sit at the threshold from the round after the win onward.
	if got := tallyString(t, results, 2, "A"); got != "4" {
		t.Errorf("round 2 plateau for A = %s, want 4", got)
	}
	if got := tallyString(t, results, 3, "B"); got != "4" {
		t.Errorf("round 3 plateau for B = %s, want 4", got)
	}
	checkConservation(t, results, len(ballots))
}

// TestTabulate_ExcludedCandidateNeverCounts tests that ballots skip past
// excluded candidates
func TestTabulate_ExcludedCandidateNeverCounts(t *testing.T) {
	rules := singleWinnerRules("A", "B", "C")
	rules.Excluded = map[string]bool{"C": true}

	var ballots []tabulator.Ballot
	ballots = append(ballots, rankedBallots(t, 3, "c", "C", "A")...)
	ballots = append(ballots, rankedBallots(t, 2, "b", "B")...)

	results := runTabulation(t, rules, ballots)

	if _, tabulated := results.Rounds[0].Tallies["C"]; tabulated {
		t.Error("excluded candidate C must not appear in tallies")
	}
	if got := tallyString(t, results, 1, "A"); got != "3" {
		t.Errorf("round 1 tally for A = %s, want 3", got)
	}
	if winners := results.WinnerList(); len(winners) != 1 || winners[0] != "A" {
		t.Errorf("expected A to win, got %v", winners)
	}
}

// TestTabulate_ByPrecinctMirrorsAggregate tests that precinct tallies sum
// to the aggregate in every round
func TestTabulate_ByPrecinctMirrorsAggregate(t *testing.T) {
	rules := singleWinnerRules("A", "B", "C")
	rules.TabulateByPrecinct = true

	var ballots []tabulator.Ballot
	for i, b := range rankedBallots(t, 5, "a", "A") {
		b.Precinct = []string{"north", "south"}[i%2]
		ballots = append(ballots, b)
	}
	for _, b := range rankedBallots(t, 3, "b", "B") {
		b.Precinct = "north"
		ballots = append(ballots, b)
	}
	for _, b := range rankedBallots(t, 2, "c", "C", "B") {
		b.Precinct = "south"
		ballots = append(ballots, b)
	}

	results := runTabulation(t, rules, ballots)

	for _, round := range results.Rounds {
		for candidate, aggregate := range round.Tallies {
			precinctSum := decimal.Zero
			for _, tallies := range round.PrecinctTallies {
				precinctSum = precinctSum.Add(tallies[candidate])
			}
			if !precinctSum.Equal(aggregate) {
				t.Errorf("round %d candidate %s: precinct sum %s != aggregate %s",
					round.Number, candidate, precinctSum.String(), aggregate.String())
			}
		}
	}
}

// TestTabulate_DeterministicAcrossRuns tests that two runs over identical
// inputs produce identical output, audit trail included
func TestTabulate_DeterministicAcrossRuns(t *testing.T) {
	build := func() *tabulator.Results {
		rules := singleWinnerRules("A", "B", "C", "D")
		rules.TiebreakMode = tabulator.TiebreakRandom
		seed := int64(1234)
		rules.RandomSeed = &seed

		var ballots []tabulator.Ballot
		ballots = append(ballots, rankedBallots(t, 4, "a", "A")...)
		ballots = append(ballots, rankedBallots(t, 3, "b", "B", "A")...)
		ballots = append(ballots, rankedBallots(t, 3, "c", "C", "B")...)
		ballots = append(ballots, rankedBallots(t, 3, "d", "D", "C")...)
		return runTabulation(t, rules, ballots)
	}

	first, err := json.Marshal(build())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	second, err := json.Marshal(build())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("two runs over identical inputs produced different results")
	}
}

// TestTabulate_CancellationProducesNoResults tests the cooperative cancel
// signal
func TestTabulate_CancellationProducesNoResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine, err := tabulator.NewEngine(singleWinnerRules("A", "B"), rankedBallots(t, 3, "a", "A"), nil, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	results, err := engine.Tabulate(ctx)
	if results != nil {
		t.Error("expected no partial results on cancellation")
	}
	if errors.KindOf(err) != errors.ErrCancelled {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

// TestTabulate_RejectsInvalidRules tests that the engine refuses to start
// on a bad configuration
func TestTabulate_RejectsInvalidRules(t *testing.T) {
	rules := singleWinnerRules("A", "B")
	rules.NumberOfWinners = 2 // contradicts singleWinner mode
	if _, err := tabulator.NewEngine(rules, nil, nil, nil); errors.KindOf(err) != errors.ErrConfigInvalid {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

// TestTabulate_EngineCannotBeReused tests the single-use contract
func TestTabulate_EngineCannotBeReused(t *testing.T) {
	engine, err := tabulator.NewEngine(singleWinnerRules("A", "B"), rankedBallots(t, 3, "a", "A"), nil, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if _, err := engine.Tabulate(context.Background()); err != nil {
		t.Fatalf("first Tabulate failed: %v", err)
	}
	if _, err := engine.Tabulate(context.Background()); err == nil {
		t.Error("expected an error on engine reuse")
	}
}
