package tabulator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/openrcv/tally/internal/decimal"
	"github.com/openrcv/tally/internal/errors"
)

// tieBreak resolves one tie among candidates with identical tallies. The
// same machinery selects losers (elimination ties) and winners
// (allow-only-one-per-round election ties); the prior-round and
// permutation rules are symmetric.
type tieBreak struct {
	// tied candidates, sorted lexicographically before any selection.
	tied            []string
	selectingWinner bool
	mode            TiebreakMode
	round           int
	tally           decimal.Decimal
	// priorTally returns a candidate's tally in an earlier round.
	priorTally  func(round int, candidate string) decimal.Decimal
	permutation []string
	rng         *rand.Rand
	resolver    TieBreakResolver

	explanation string
}

// selectCandidate picks the loser (or winner) according to the configured
// mode and records a human-readable explanation for the audit trail.
func (t *tieBreak) selectCandidate() (string, error) {
	switch t.mode {
	case TiebreakRandom:
		return t.selectByRandom(t.tied), nil
	case TiebreakInteractive:
		return t.selectByResolver(t.tied)
	case TiebreakPreviousRoundCountsThenRandom:
		selected, remaining := t.selectByPriorRounds(t.tied)
		if selected != "" {
			return selected, nil
		}
		return t.selectByRandom(remaining), nil
	case TiebreakPreviousRoundCountsThenInteractive:
		selected, remaining := t.selectByPriorRounds(t.tied)
		if selected != "" {
			return selected, nil
		}
		return t.selectByResolver(remaining)
	case TiebreakUsePermutationInConfig, TiebreakGeneratePermutation:
		return t.selectByPermutation(t.tied)
	}
	return "", errors.Internalf("unhandled tiebreak mode %d", t.mode)
}

// selectByPriorRounds narrows the tied set by earlier-round tallies,
// scanning rounds round-1, round-2, ..., 1. At each examined round only
// the candidates with the extreme tally (lowest for losers, highest for
// winners) stay under consideration. Returns the selected candidate, or
// "" plus the still-tied subset when the prior rounds never separate them.
func (t *tieBreak) selectByPriorRounds(candidates []string) (string, []string) {
	remaining := candidates
	for round := t.round - 1; round >= 1 && len(remaining) > 1; round-- {
		tallies := make(map[string]decimal.Decimal, len(remaining))
		for _, candidate := range remaining {
			tallies[candidate] = t.priorTally(round, candidate)
		}
		groups := buildTallyGroups(tallies, remaining)
		extreme := groups.lowest()
		if t.selectingWinner {
			extreme = groups.highest()
		}
		if len(extreme.candidates) == 1 {
			selected := extreme.candidates[0]
			t.explanation = fmt.Sprintf(
				"%s had the %s votes (%s) in round %d.",
				selected, t.extremeWord(), extreme.tally.String(), round)
			return selected, nil
		}
		remaining = extreme.candidates
	}
	return "", remaining
}

// selectByRandom picks uniformly from the tied set, which is already
// sorted by candidate id, using the seeded PRNG.
func (t *tieBreak) selectByRandom(candidates []string) string {
	selected := candidates[t.rng.Intn(len(candidates))]
	t.explanation = "Random selection from the tied candidates."
	return selected
}

// selectByPermutation selects by position in the configured or generated
// permutation: the candidate ranked latest loses, the candidate ranked
// earliest wins.
func (t *tieBreak) selectByPermutation(candidates []string) (string, error) {
	tied := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		tied[candidate] = true
	}
	order := t.permutation
	if !t.selectingWinner {
		// scan from the back so the lowest-ranked tied candidate is found
		order = make([]string, len(t.permutation))
		for i, candidate := range t.permutation {
			order[len(order)-1-i] = candidate
		}
	}
	for _, candidate := range order {
		if tied[candidate] {
			t.explanation = fmt.Sprintf(
				"%s was the %s-ranked tied candidate in the tie-break permutation.",
				candidate, t.permutationWord())
			return candidate, nil
		}
	}
	return "", errors.Internalf(
		"tie-break permutation does not cover tied candidates %s",
		strings.Join(candidates, ", "))
}

// selectByResolver suspends on the external resolver. With no resolver
// attached the tie surfaces as a TieBreakRequired error.
func (t *tieBreak) selectByResolver(candidates []string) (string, error) {
	if t.resolver == nil {
		return "", errors.TieBreakRequiredf(
			"round %d requires an interactive tie-break among %s",
			t.round, strings.Join(candidates, ", "))
	}
	choice, err := t.resolver.Resolve(TieBreakRequest{
		Round:           t.round,
		TiedCandidates:  append([]string(nil), candidates...),
		SelectingWinner: t.selectingWinner,
		Tally:           t.tally,
	})
	if err != nil {
		return "", err
	}
	for _, candidate := range candidates {
		if candidate == choice {
			t.explanation = "Selection supplied by external tie-break resolution."
			return choice, nil
		}
	}
	return "", errors.InvalidInputf(
		"tie-break resolution %q is not one of the tied candidates", choice)
}

// otherCandidates describes the rest of the tied set for audit messages.
func (t *tieBreak) otherCandidates(selected string) string {
	var others []string
	for _, candidate := range t.tied {
		if candidate != selected {
			others = append(others, candidate)
		}
	}
	return strings.Join(others, ", ")
}

func (t *tieBreak) extremeWord() string {
	if t.selectingWinner {
		return "most"
	}
	return "fewest"
}

func (t *tieBreak) permutationWord() string {
	if t.selectingWinner {
		return "earliest"
	}
	return "latest"
}
