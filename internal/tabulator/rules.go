// Package tabulator implements round-by-round ranked-choice vote
// tabulation: ballot interpretation, threshold computation, winner
// selection, surplus transfer, batch elimination and tie-breaking.
//
// The package is pure computation. It consumes a Rules value and a ballot
// set, reports progress through an Observer, and returns a Results value.
// Given identical inputs and the same random seed it produces bit-identical
// output, including the ordering of every audit event.
package tabulator

import (
	"github.com/openrcv/tally/internal/decimal"
	"github.com/openrcv/tally/internal/errors"
)

// ExplicitOvervote is the normalized marker for an explicit overvote mark
// within a ranking. CVR readers rewrite the configured overvote label to
// this value before ballots reach the engine.
const ExplicitOvervote = "overvote"

// TransferSourceInitial is the synthetic source used in transfer records
// for a ballot's first assignment.
const TransferSourceInitial = "initial"

// TransferDestExhausted is the synthetic destination used in transfer
// records when a ballot exhausts.
const TransferDestExhausted = "exhausted"

// WinnerElectionMode selects the winner identification and stopping rules.
type WinnerElectionMode int

const (
	SingleWinner WinnerElectionMode = iota
	MultiSeatAllowOnlyOnePerRound
	MultiSeatAllowMultiplePerRound
	MultiSeatBottomsUpUntilN
	MultiSeatBottomsUpThreshold
	MultiSeatSequentialWinnerTakesAll
)

func (m WinnerElectionMode) String() string {
	switch m {
	case SingleWinner:
		return "singleWinner"
	case MultiSeatAllowOnlyOnePerRound:
		return "multiSeatAllowOnlyOnePerRound"
	case MultiSeatAllowMultiplePerRound:
		return "multiSeatAllowMultiplePerRound"
	case MultiSeatBottomsUpUntilN:
		return "multiSeatBottomsUpUntilN"
	case MultiSeatBottomsUpThreshold:
		return "multiSeatBottomsUpThreshold"
	case MultiSeatSequentialWinnerTakesAll:
		return "multiSeatSequentialWinnerTakesAll"
	}
	return "unknown"
}

// isBottomsUp reports whether the mode declares winners from the bottom up
// and therefore never performs surplus transfers.
func (m WinnerElectionMode) isBottomsUp() bool {
	return m == MultiSeatBottomsUpUntilN || m == MultiSeatBottomsUpThreshold
}

// OvervoteRule determines how overvotes are handled.
type OvervoteRule int

const (
	ExhaustImmediately OvervoteRule = iota
	AlwaysSkipToNextRank
	ExhaustIfMultipleContinuing
)

func (r OvervoteRule) String() string {
	switch r {
	case ExhaustImmediately:
		return "exhaustImmediately"
	case AlwaysSkipToNextRank:
		return "alwaysSkipToNextRank"
	case ExhaustIfMultipleContinuing:
		return "exhaustIfMultipleContinuing"
	}
	return "unknown"
}

// TiebreakMode determines how ties are broken.
type TiebreakMode int

const (
	TiebreakRandom TiebreakMode = iota
	TiebreakInteractive
	TiebreakPreviousRoundCountsThenRandom
	TiebreakPreviousRoundCountsThenInteractive
	TiebreakUsePermutationInConfig
	TiebreakGeneratePermutation
)

func (m TiebreakMode) String() string {
	switch m {
	case TiebreakRandom:
		return "random"
	case TiebreakInteractive:
		return "interactive"
	case TiebreakPreviousRoundCountsThenRandom:
		return "previousRoundCountsThenRandom"
	case TiebreakPreviousRoundCountsThenInteractive:
		return "previousRoundCountsThenInteractive"
	case TiebreakUsePermutationInConfig:
		return "usePermutationInConfig"
	case TiebreakGeneratePermutation:
		return "generatePermutation"
	}
	return "unknown"
}

// needsRandomSeed reports whether the mode consumes the seeded PRNG.
func (m TiebreakMode) needsRandomSeed() bool {
	return m == TiebreakRandom || m == TiebreakPreviousRoundCountsThenRandom
}

// usesPermutation reports whether the mode resolves ties from a candidate
// permutation.
func (m TiebreakMode) usesPermutation() bool {
	return m == TiebreakUsePermutationInConfig || m == TiebreakGeneratePermutation
}

// Rules is the engine-facing contest configuration. The string forms of
// the enumerations belong to the config loader; the engine only sees the
// resolved variants.
type Rules struct {
	ContestName string

	// Candidates are all tabulatable candidate identifiers, including the
	// undeclared-write-in label when one is configured.
	Candidates []string
	// Excluded candidates are configured out of the contest entirely.
	Excluded map[string]bool

	NumberOfWinners    int
	WinnerElectionMode WinnerElectionMode
	// BottomsUpPercentageThreshold is required for (and only meaningful in)
	// MultiSeatBottomsUpThreshold mode. Expressed as a fraction in (0, 1].
	BottomsUpPercentageThreshold decimal.Decimal

	OvervoteRule OvervoteRule
	// OvervoteLabel is the mark CVR readers normalize to ExplicitOvervote.
	// Empty means no explicit overvote label is in use.
	OvervoteLabel string
	// UndeclaredWriteInLabel names the synthetic candidate that absorbs
	// undeclared write-ins. Empty means undeclared write-ins are not tabulated.
	UndeclaredWriteInLabel string

	TiebreakMode         TiebreakMode
	RandomSeed           *int64
	CandidatePermutation []string

	// MaxRankings is the resolved maximum number of rankings a ballot may
	// carry ("max" resolves to the number of declared candidates).
	MaxRankings int
	// MaxSkippedRanks is the number of consecutive skipped ranks tolerated
	// before a ballot exhausts as an undervote. Nil means unlimited.
	MaxSkippedRanks *int

	MinimumVoteThreshold decimal.Decimal
	DecimalPlaces        int

	BatchElimination                 bool
	ContinueUntilTwoCandidatesRemain bool
	ExhaustOnDuplicateCandidate      bool
	NonIntegerWinningThreshold       bool
	HareQuota                        bool
	TabulateByPrecinct               bool
}

// NumCandidates returns the number of tabulatable candidates.
func (r *Rules) NumCandidates() int {
	return len(r.Candidates)
}

// IsExcluded reports whether the candidate is configured out.
func (r *Rules) IsExcluded(candidate string) bool {
	return r.Excluded[candidate]
}

// Validate checks the constraints the engine depends on. The config loader
// performs file-level validation and calls this as its last step.
func (r *Rules) Validate() error {
	if len(r.Candidates) == 0 {
		return errors.ConfigInvalid("contest has no candidates")
	}
	seen := make(map[string]bool, len(r.Candidates))
	for _, c := range r.Candidates {
		if c == "" {
			return errors.ConfigInvalid("candidate identifiers must be non-empty")
		}
		if seen[c] {
			return errors.ConfigInvalidf("duplicate candidate %q", c)
		}
		seen[c] = true
	}
	for c := range r.Excluded {
		if !seen[c] {
			return errors.ConfigInvalidf("excluded candidate %q is not declared", c)
		}
	}

	if r.NumberOfWinners < 0 {
		return errors.ConfigInvalidf("numberOfWinners must be non-negative, got %d", r.NumberOfWinners)
	}
	switch r.WinnerElectionMode {
	case SingleWinner:
		if r.NumberOfWinners != 1 {
			return errors.ConfigInvalidf(
				"singleWinner mode requires numberOfWinners = 1, got %d", r.NumberOfWinners)
		}
	case MultiSeatBottomsUpThreshold:
		if r.NumberOfWinners != 0 {
			return errors.ConfigInvalid(
				"multiSeatBottomsUpThreshold mode requires numberOfWinners = 0")
		}
		if !r.BottomsUpPercentageThreshold.IsPositive() ||
			r.BottomsUpPercentageThreshold.Cmp(decimal.One) > 0 {
			return errors.ConfigInvalid(
				"multiSeatBottomsUpPercentageThreshold must be in (0, 1]")
		}
	default:
		if r.NumberOfWinners < 1 {
			return errors.ConfigInvalidf(
				"%s mode requires numberOfWinners >= 1, got %d",
				r.WinnerElectionMode, r.NumberOfWinners)
		}
	}

	if r.OvervoteLabel != "" && r.OvervoteRule == ExhaustIfMultipleContinuing {
		return errors.ConfigInvalid(
			"overvoteLabel can only be used with exhaustImmediately or alwaysSkipToNextRank")
	}

	if r.TiebreakMode.needsRandomSeed() || r.TiebreakMode == TiebreakGeneratePermutation {
		if r.RandomSeed == nil {
			return errors.ConfigInvalidf("tiebreak mode %s requires randomSeed", r.TiebreakMode)
		}
	}
	if r.TiebreakMode.usesPermutation() {
		inPermutation := make(map[string]bool, len(r.CandidatePermutation))
		for _, c := range r.CandidatePermutation {
			inPermutation[c] = true
		}
		for _, c := range r.Candidates {
			if !inPermutation[c] {
				return errors.ConfigInvalidf(
					"candidate %q is missing from the tie-break permutation", c)
			}
		}
	}

	if r.MaxRankings < 1 {
		return errors.ConfigInvalidf("maxRankingsAllowed must be positive, got %d", r.MaxRankings)
	}
	if r.MaxSkippedRanks != nil && *r.MaxSkippedRanks < 0 {
		return errors.ConfigInvalidf(
			"maxSkippedRanksAllowed must be non-negative, got %d", *r.MaxSkippedRanks)
	}
	if r.MinimumVoteThreshold.IsNegative() {
		return errors.ConfigInvalid("minimumVoteThreshold must be non-negative")
	}
	if _, err := decimal.NewContext(r.DecimalPlaces); err != nil {
		return err
	}
	return nil
}
