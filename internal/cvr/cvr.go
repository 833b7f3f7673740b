// Package cvr reads cast-vote-record files into ballots. Readers
// normalize marks before the engine sees them: the configured overvote
// label becomes the explicit overvote sentinel, and undeclared candidates
// map to the undeclared-write-in label or are dropped.
package cvr

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openrcv/tally/internal/errors"
	"github.com/openrcv/tally/internal/tabulator"
)

// Stats reports what a reader saw in one file.
type Stats struct {
	BallotCount int
	// UndeclaredMarks counts marks mapped to the undeclared-write-in label.
	UndeclaredMarks int
	// IgnoredMarks counts undeclared marks dropped because no write-in
	// label is configured.
	IgnoredMarks int
}

// jsonBallot is the on-disk ballot shape: ranks are string keys mapping to
// the candidate(s) marked at that rank.
type jsonBallot struct {
	ID       string              `json:"id"`
	Precinct string              `json:"precinct,omitempty"`
	Rankings map[string][]string `json:"rankings"`
}

// Read loads a CVR file, picking the reader from the format hint or the
// file extension.
func Read(path, format string, rules *tabulator.Rules) ([]tabulator.Ballot, *Stats, error) {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	switch strings.ToLower(format) {
	case "json":
		return ReadJSON(path, rules)
	case "csv":
		return ReadCSV(path, rules)
	}
	return nil, nil, errors.InvalidInputf("unrecognized cast-vote-record format %q", format)
}

// ReadJSON loads a JSON ballot file.
func ReadJSON(path string, rules *tabulator.Rules) ([]tabulator.Ballot, *Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrInvalidInput, "cannot read cast-vote-record file")
	}
	return ParseJSON(data, rules)
}

// ParseJSON parses a JSON ballot document: an array of objects with an id,
// an optional precinct, and rankings keyed by rank number.
func ParseJSON(data []byte, rules *tabulator.Rules) ([]tabulator.Ballot, *Stats, error) {
	var records []jsonBallot
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrInvalidInput, "cannot parse cast-vote-record file")
	}

	stats := &Stats{}
	ballots := make([]tabulator.Ballot, 0, len(records))
	for i, record := range records {
		byRank := make(map[int][]string, len(record.Rankings))
		for rawRank, marks := range record.Rankings {
			rank, err := strconv.Atoi(rawRank)
			if err != nil {
				return nil, nil, errors.InvalidInputf("ballot %q has non-numeric rank %q", record.ID, rawRank)
			}
			if err := checkRank(rank, rules, record.ID); err != nil {
				return nil, nil, err
			}
			normalized := normalizeMarks(marks, rules, stats)
			if len(normalized) > 0 {
				byRank[rank] = normalized
			}
		}
		ballots = append(ballots, tabulator.Ballot{
			ID:       ballotID(record.ID, i),
			Precinct: record.Precinct,
			Rankings: tabulator.NewRankings(byRank),
		})
	}
	stats.BallotCount = len(ballots)
	return ballots, stats, nil
}

// ReadCSV loads a CSV ballot file with columns id, precinct, rank1..rankN.
// A cell may carry several candidates separated by ";".
func ReadCSV(path string, rules *tabulator.Rules) ([]tabulator.Ballot, *Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrInvalidInput, "cannot open cast-vote-record file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrInvalidInput, "cannot parse cast-vote-record file")
	}
	if len(rows) == 0 {
		return nil, &Stats{}, nil
	}

	stats := &Stats{}
	ballots := make([]tabulator.Ballot, 0, len(rows)-1)
	for i, row := range rows[1:] { // rows[0] is the header
		if len(row) < 2 {
			return nil, nil, errors.InvalidInputf("row %d has fewer than two columns", i+2)
		}
		byRank := make(map[int][]string)
		for col, cell := range row[2:] {
			rank := col + 1
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if err := checkRank(rank, rules, row[0]); err != nil {
				return nil, nil, err
			}
			marks := strings.Split(cell, ";")
			for j := range marks {
				marks[j] = strings.TrimSpace(marks[j])
			}
			normalized := normalizeMarks(marks, rules, stats)
			if len(normalized) > 0 {
				byRank[rank] = normalized
			}
		}
		ballots = append(ballots, tabulator.Ballot{
			ID:       ballotID(row[0], i),
			Precinct: strings.TrimSpace(row[1]),
			Rankings: tabulator.NewRankings(byRank),
		})
	}
	stats.BallotCount = len(ballots)
	return ballots, stats, nil
}

// MarshalBallots renders ballots back to the JSON ballot format, for the
// CSV-to-JSON conversion mode.
func MarshalBallots(ballots []tabulator.Ballot) ([]byte, error) {
	records := make([]jsonBallot, 0, len(ballots))
	for _, ballot := range ballots {
		record := jsonBallot{
			ID:       ballot.ID,
			Precinct: ballot.Precinct,
			Rankings: make(map[string][]string, len(ballot.Rankings)),
		}
		for _, entry := range ballot.Rankings {
			record.Rankings[strconv.Itoa(entry.Rank)] = entry.Candidates
		}
		records = append(records, record)
	}
	return json.MarshalIndent(records, "", "  ")
}

func ballotID(raw string, index int) string {
	if raw != "" {
		return raw
	}
	return fmt.Sprintf("ballot-%d", index+1)
}

func checkRank(rank int, rules *tabulator.Rules, ballotID string) error {
	if rank < 1 || rank > rules.MaxRankings {
		return errors.InvalidInputf(
			"ballot %q has rank %d outside 1..%d", ballotID, rank, rules.MaxRankings)
	}
	return nil
}

// normalizeMarks rewrites raw marks into engine candidate identifiers. An
// explicit overvote collapses the whole rank to the sentinel alone.
func normalizeMarks(marks []string, rules *tabulator.Rules, stats *Stats) []string {
	declared := make(map[string]bool, len(rules.Candidates))
	for _, candidate := range rules.Candidates {
		declared[candidate] = true
	}

	var normalized []string
	seen := make(map[string]bool)
	for _, mark := range marks {
		if mark == "" {
			continue
		}
		switch {
		case rules.OvervoteLabel != "" && mark == rules.OvervoteLabel:
			return []string{tabulator.ExplicitOvervote}
		case declared[mark]:
			if !seen[mark] {
				seen[mark] = true
				normalized = append(normalized, mark)
			}
		case rules.UndeclaredWriteInLabel != "":
			stats.UndeclaredMarks++
			if !seen[rules.UndeclaredWriteInLabel] {
				seen[rules.UndeclaredWriteInLabel] = true
				normalized = append(normalized, rules.UndeclaredWriteInLabel)
			}
		default:
			stats.IgnoredMarks++
		}
	}
	return normalized
}
