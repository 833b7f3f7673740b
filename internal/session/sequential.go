package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/openrcv/tally/internal/errors"
	"github.com/openrcv/tally/internal/tabulator"
)

// runSequential implements sequential winner-takes-all: the engine runs
// once per seat with numberOfWinners overridden to one, and each pass's
// winner is excluded from the passes that follow. The driver never reaches
// inside the engine; each pass gets a fresh engine over the same immutable
// ballots.
func (s *Session) runSequential(
	ctx context.Context,
	rules *tabulator.Rules,
	ballots []tabulator.Ballot,
	configJSON, outputDir string,
) (*Output, error) {
	seats := rules.NumberOfWinners
	runID := uuid.NewString()
	output := &Output{}

	for seat := 1; seat <= seats; seat++ {
		s.log.Info("Beginning tabulation for seat", "seat", seat, "of", seats)

		passRules := *rules
		passRules.NumberOfWinners = 1
		passRules.Excluded = make(map[string]bool, len(rules.Excluded)+len(output.SequentialWinners))
		for candidate := range rules.Excluded {
			passRules.Excluded[candidate] = true
		}
		for _, winner := range output.SequentialWinners {
			passRules.Excluded[winner] = true
		}

		passID := fmt.Sprintf("%s-seat%d", runID, seat)
		if err := s.runOnce(ctx, &passRules, ballots, configJSON, outputDir, passID, output); err != nil {
			return nil, err
		}

		passWinners := output.Runs[len(output.Runs)-1].Winners()
		if len(passWinners) != 1 {
			return nil, errors.Internalf(
				"sequential pass %d produced %d winners", seat, len(passWinners))
		}
		output.SequentialWinners = append(output.SequentialWinners, passWinners[0])
		if seat < seats {
			s.log.Info("Excluding winner from remaining passes", "candidate", passWinners[0])
		}
	}
	return output, nil
}

// sortedKeys returns a map's keys in ascending order, for deterministic
// output rendering.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
