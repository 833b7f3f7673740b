// Package config loads and validates contest configuration files and maps
// them onto the engine's rule variants. The string forms of modes and
// rules live here, not in the engine.
package config

import (
	"encoding/json"
	"math/rand"
	"os"
	"sort"
	"strconv"

	"github.com/openrcv/tally/internal/decimal"
	"github.com/openrcv/tally/internal/errors"
	"github.com/openrcv/tally/internal/tabulator"
)

// Suggested defaults applied when a config omits the option.
const (
	DefaultDecimalPlaces = 4
	DefaultOvervoteLabel = "overvote"

	// MaxRankingsMaximumOption resolves maxRankingsAllowed to the number
	// of declared candidates.
	MaxRankingsMaximumOption = "max"
	// MaxSkippedRanksUnlimitedOption disables skipped-rank exhaustion.
	MaxSkippedRanksUnlimitedOption = "unlimited"
)

// Candidate declares one contest candidate.
type Candidate struct {
	Name     string `json:"name"`
	Excluded bool   `json:"excluded,omitempty"`
}

// SourceFile points at one cast-vote-record file to tabulate.
type SourceFile struct {
	FilePath string `json:"filePath"`
	// Format is "json" or "csv"; empty defaults by file extension.
	Format string `json:"format,omitempty"`
}

// Rules holds the tabulation options in their on-disk form. Decimal
// options are strings so no value ever passes through binary floating
// point.
type Rules struct {
	NumberOfWinners                       int      `json:"numberOfWinners"`
	WinnerElectionMode                    string   `json:"winnerElectionMode"`
	MultiSeatBottomsUpPercentageThreshold string   `json:"multiSeatBottomsUpPercentageThreshold,omitempty"`
	OvervoteRule                          string   `json:"overvoteRule"`
	OvervoteLabel                         string   `json:"overvoteLabel,omitempty"`
	UndeclaredWriteInLabel                string   `json:"undeclaredWriteInLabel,omitempty"`
	TiebreakMode                          string   `json:"tiebreakMode"`
	RandomSeed                            *int64   `json:"randomSeed,omitempty"`
	CandidatePermutation                  []string `json:"candidatePermutation,omitempty"`
	MaxRankingsAllowed                    string   `json:"maxRankingsAllowed,omitempty"`
	MaxSkippedRanksAllowed                string   `json:"maxSkippedRanksAllowed,omitempty"`
	MinimumVoteThreshold                  string   `json:"minimumVoteThreshold,omitempty"`
	DecimalPlacesForVoteArithmetic        *int     `json:"decimalPlacesForVoteArithmetic,omitempty"`
	BatchElimination                      bool     `json:"batchElimination,omitempty"`
	ContinueUntilTwoCandidatesRemain      bool     `json:"continueUntilTwoCandidatesRemain,omitempty"`
	ExhaustOnDuplicateCandidate           bool     `json:"exhaustOnDuplicateCandidate,omitempty"`
	NonIntegerWinningThreshold            bool     `json:"nonIntegerWinningThreshold,omitempty"`
	HareQuota                             bool     `json:"hareQuota,omitempty"`
	TabulateByPrecinct                    bool     `json:"tabulateByPrecinct,omitempty"`
}

// Contest is a complete contest configuration file.
type Contest struct {
	ContestName     string       `json:"contestName"`
	Candidates      []Candidate  `json:"candidates"`
	Rules           Rules        `json:"rules"`
	CvrFiles        []SourceFile `json:"cvrFiles,omitempty"`
	OutputDirectory string       `json:"outputDirectory,omitempty"`
}

var winnerElectionModes = map[string]tabulator.WinnerElectionMode{
	"singleWinner":                      tabulator.SingleWinner,
	"multiSeatAllowOnlyOnePerRound":     tabulator.MultiSeatAllowOnlyOnePerRound,
	"multiSeatAllowMultiplePerRound":    tabulator.MultiSeatAllowMultiplePerRound,
	"multiSeatBottomsUpUntilN":          tabulator.MultiSeatBottomsUpUntilN,
	"multiSeatBottomsUpThreshold":       tabulator.MultiSeatBottomsUpThreshold,
	"multiSeatSequentialWinnerTakesAll": tabulator.MultiSeatSequentialWinnerTakesAll,
}

var overvoteRules = map[string]tabulator.OvervoteRule{
	"exhaustImmediately":          tabulator.ExhaustImmediately,
	"alwaysSkipToNextRank":        tabulator.AlwaysSkipToNextRank,
	"exhaustIfMultipleContinuing": tabulator.ExhaustIfMultipleContinuing,
}

var tiebreakModes = map[string]tabulator.TiebreakMode{
	"random":                             tabulator.TiebreakRandom,
	"interactive":                        tabulator.TiebreakInteractive,
	"previousRoundCountsThenRandom":      tabulator.TiebreakPreviousRoundCountsThenRandom,
	"previousRoundCountsThenInteractive": tabulator.TiebreakPreviousRoundCountsThenInteractive,
	"usePermutationInConfig":             tabulator.TiebreakUsePermutationInConfig,
	"generatePermutation":                tabulator.TiebreakGeneratePermutation,
}

// Load reads and validates a contest configuration file.
func Load(path string) (*Contest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid, "cannot read config file")
	}
	return Parse(data)
}

// Parse validates a contest configuration document.
func Parse(data []byte) (*Contest, error) {
	var contest Contest
	if err := json.Unmarshal(data, &contest); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid, "cannot parse config file")
	}
	if _, err := contest.ToRules(); err != nil {
		return nil, err
	}
	return &contest, nil
}

// ToRules maps the on-disk configuration onto the engine's rule variants,
// applying defaults, resolving "max"/"unlimited" options, and generating
// the tie-break permutation when the mode calls for one.
func (c *Contest) ToRules() (*tabulator.Rules, error) {
	if c.ContestName == "" {
		return nil, errors.ConfigInvalid("contestName is required")
	}
	if len(c.Candidates) == 0 {
		return nil, errors.ConfigInvalid("at least one candidate is required")
	}

	mode, ok := winnerElectionModes[c.Rules.WinnerElectionMode]
	if !ok {
		return nil, errors.ConfigInvalidf("unrecognized winnerElectionMode %q", c.Rules.WinnerElectionMode)
	}
	overvoteRule, ok := overvoteRules[c.Rules.OvervoteRule]
	if !ok {
		return nil, errors.ConfigInvalidf("unrecognized overvoteRule %q", c.Rules.OvervoteRule)
	}
	tiebreakMode, ok := tiebreakModes[c.Rules.TiebreakMode]
	if !ok {
		return nil, errors.ConfigInvalidf("unrecognized tiebreakMode %q", c.Rules.TiebreakMode)
	}

	candidates := make([]string, 0, len(c.Candidates)+1)
	excluded := make(map[string]bool)
	for _, candidate := range c.Candidates {
		candidates = append(candidates, candidate.Name)
		if candidate.Excluded {
			excluded[candidate.Name] = true
		}
	}
	uwi := c.Rules.UndeclaredWriteInLabel
	if uwi != "" && !containsString(candidates, uwi) {
		candidates = append(candidates, uwi)
	}

	overvoteLabel := c.Rules.OvervoteLabel
	if overvoteLabel == "" && overvoteRule != tabulator.ExhaustIfMultipleContinuing {
		overvoteLabel = DefaultOvervoteLabel
	}
	if containsString(candidates, overvoteLabel) {
		return nil, errors.ConfigInvalidf("overvoteLabel %q collides with a candidate", overvoteLabel)
	}

	maxRankings, err := resolveMaxRankings(c.Rules.MaxRankingsAllowed, len(c.Candidates))
	if err != nil {
		return nil, err
	}
	maxSkipped, err := resolveMaxSkippedRanks(c.Rules.MaxSkippedRanksAllowed)
	if err != nil {
		return nil, err
	}

	minimumVoteThreshold := decimal.Zero
	if c.Rules.MinimumVoteThreshold != "" {
		minimumVoteThreshold, err = decimal.Parse(c.Rules.MinimumVoteThreshold)
		if err != nil {
			return nil, errors.ConfigInvalidf("invalid minimumVoteThreshold %q", c.Rules.MinimumVoteThreshold)
		}
	}

	bottomsUpThreshold := decimal.Zero
	if c.Rules.MultiSeatBottomsUpPercentageThreshold != "" {
		bottomsUpThreshold, err = decimal.Parse(c.Rules.MultiSeatBottomsUpPercentageThreshold)
		if err != nil {
			return nil, errors.ConfigInvalidf(
				"invalid multiSeatBottomsUpPercentageThreshold %q",
				c.Rules.MultiSeatBottomsUpPercentageThreshold)
		}
	}

	decimalPlaces := DefaultDecimalPlaces
	if c.Rules.DecimalPlacesForVoteArithmetic != nil {
		decimalPlaces = *c.Rules.DecimalPlacesForVoteArithmetic
	}

	permutation := append([]string(nil), c.Rules.CandidatePermutation...)
	if tiebreakMode == tabulator.TiebreakGeneratePermutation {
		if c.Rules.RandomSeed == nil {
			return nil, errors.ConfigInvalid("generatePermutation requires randomSeed")
		}
		permutation = generatePermutation(candidates, *c.Rules.RandomSeed)
	}

	rules := &tabulator.Rules{
		ContestName:                      c.ContestName,
		Candidates:                       candidates,
		Excluded:                         excluded,
		NumberOfWinners:                  c.Rules.NumberOfWinners,
		WinnerElectionMode:               mode,
		BottomsUpPercentageThreshold:     bottomsUpThreshold,
		OvervoteRule:                     overvoteRule,
		OvervoteLabel:                    overvoteLabel,
		UndeclaredWriteInLabel:           uwi,
		TiebreakMode:                     tiebreakMode,
		RandomSeed:                       c.Rules.RandomSeed,
		CandidatePermutation:             permutation,
		MaxRankings:                      maxRankings,
		MaxSkippedRanks:                  maxSkipped,
		MinimumVoteThreshold:             minimumVoteThreshold,
		DecimalPlaces:                    decimalPlaces,
		BatchElimination:                 c.Rules.BatchElimination,
		ContinueUntilTwoCandidatesRemain: c.Rules.ContinueUntilTwoCandidatesRemain,
		ExhaustOnDuplicateCandidate:      c.Rules.ExhaustOnDuplicateCandidate,
		NonIntegerWinningThreshold:       c.Rules.NonIntegerWinningThreshold,
		HareQuota:                        c.Rules.HareQuota,
		TabulateByPrecinct:               c.Rules.TabulateByPrecinct,
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// resolveMaxRankings turns "max" (or an omitted option) into the number of
// declared candidates.
func resolveMaxRankings(raw string, numCandidates int) (int, error) {
	if raw == "" || raw == MaxRankingsMaximumOption {
		return numCandidates, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.ConfigInvalidf(
			"maxRankingsAllowed must be %q or a positive integer, got %q",
			MaxRankingsMaximumOption, raw)
	}
	return n, nil
}

// resolveMaxSkippedRanks turns "unlimited" (or an omitted option) into no
// limit.
func resolveMaxSkippedRanks(raw string) (*int, error) {
	if raw == "" || raw == MaxSkippedRanksUnlimitedOption {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, errors.ConfigInvalidf(
			"maxSkippedRanksAllowed must be %q or a non-negative integer, got %q",
			MaxSkippedRanksUnlimitedOption, raw)
	}
	return &n, nil
}

// generatePermutation shuffles the candidate list with the seeded PRNG.
// The input is sorted first so the result depends only on the candidate
// set and the seed, not on declaration order.
func generatePermutation(candidates []string, seed int64) []string {
	permutation := append([]string(nil), candidates...)
	sort.Strings(permutation)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(permutation), func(i, j int) {
		permutation[i], permutation[j] = permutation[j], permutation[i]
	})
	return permutation
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
