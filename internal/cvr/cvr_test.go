package cvr_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openrcv/tally/internal/cvr"
	"github.com/openrcv/tally/internal/tabulator"
)

func testRules() *tabulator.Rules {
	return &tabulator.Rules{
		Candidates:             []string{"Alice", "Bob", "Undeclared"},
		UndeclaredWriteInLabel: "Undeclared",
		OvervoteLabel:          "overvote",
		MaxRankings:            3,
	}
}

// TestParseJSON_BasicBallots tests the JSON ballot shape
func TestParseJSON_BasicBallots(t *testing.T) {
	doc := `[
		{"id": "b1", "precinct": "north", "rankings": {"1": ["Alice"], "2": ["Bob"]}},
		{"id": "b2", "rankings": {"1": ["Bob"]}},
		{"rankings": {}}
	]`
	ballots, stats, err := cvr.ParseJSON([]byte(doc), testRules())
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if stats.BallotCount != 3 {
		t.Errorf("ballot count = %d, want 3", stats.BallotCount)
	}
	if ballots[0].Precinct != "north" {
		t.Errorf("precinct = %q, want north", ballots[0].Precinct)
	}
	if got := ballots[0].Rankings[0].Candidates[0]; got != "Alice" {
		t.Errorf("first preference = %q, want Alice", got)
	}
	// Missing ids are synthesized.
	if ballots[2].ID == "" {
		t.Error("expected a synthesized ballot id")
	}
	if len(ballots[2].Rankings) != 0 {
		t.Errorf("empty rankings expected, got %v", ballots[2].Rankings)
	}
}

// TestParseJSON_NormalizesOvervoteLabel tests that the configured label
// collapses the rank to the explicit overvote sentinel
func TestParseJSON_NormalizesOvervoteLabel(t *testing.T) {
	doc := `[{"id": "b1", "rankings": {"1": ["Alice", "overvote"], "2": ["Bob"]}}]`
	ballots, _, err := cvr.ParseJSON([]byte(doc), testRules())
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	rank1 := ballots[0].Rankings[0].Candidates
	if len(rank1) != 1 || rank1[0] != tabulator.ExplicitOvervote {
		t.Errorf("rank 1 = %v, want only the overvote sentinel", rank1)
	}
}

// TestParseJSON_UndeclaredCandidates tests write-in mapping and the
// dropped-mark counter
func TestParseJSON_UndeclaredCandidates(t *testing.T) {
	doc := `[{"id": "b1", "rankings": {"1": ["Mallory"], "2": ["Bob"]}}]`

	ballots, stats, err := cvr.ParseJSON([]byte(doc), testRules())
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if stats.UndeclaredMarks != 1 {
		t.Errorf("undeclared marks = %d, want 1", stats.UndeclaredMarks)
	}
	if got := ballots[0].Rankings[0].Candidates[0]; got != "Undeclared" {
		t.Errorf("rank 1 = %q, want the write-in label", got)
	}

	// Without a write-in label the mark is dropped and counted.
	rules := testRules()
	rules.UndeclaredWriteInLabel = ""
	rules.Candidates = []string{"Alice", "Bob"}
	ballots, stats, err = cvr.ParseJSON([]byte(doc), rules)
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if stats.IgnoredMarks != 1 {
		t.Errorf("ignored marks = %d, want 1", stats.IgnoredMarks)
	}
	if len(ballots[0].Rankings) != 1 {
		t.Errorf("rank 1 should be empty after dropping, got %v", ballots[0].Rankings)
	}
}

// TestParseJSON_RejectsBadRanks tests rank bound enforcement
func TestParseJSON_RejectsBadRanks(t *testing.T) {
	for _, doc := range []string{
		`[{"id": "b1", "rankings": {"0": ["Alice"]}}]`,
		`[{"id": "b1", "rankings": {"4": ["Alice"]}}]`,
		`[{"id": "b1", "rankings": {"one": ["Alice"]}}]`,
	} {
		if _, _, err := cvr.ParseJSON([]byte(doc), testRules()); err == nil {
			t.Errorf("expected an error for %s", doc)
		}
	}
}

// TestReadCSV_ParsesRowsAndMultiMarks tests the CSV shape including
// multiple candidates in one cell
func TestReadCSV_ParsesRowsAndMultiMarks(t *testing.T) {
	csvDoc := "id,precinct,rank1,rank2,rank3\n" +
		"b1,north,Alice,Bob,\n" +
		"b2,south,Alice; Bob,,\n" +
		"b3,,,Bob,\n"
	path := filepath.Join(t.TempDir(), "ballots.csv")
	if err := os.WriteFile(path, []byte(csvDoc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ballots, stats, err := cvr.ReadCSV(path, testRules())
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if stats.BallotCount != 3 {
		t.Fatalf("ballot count = %d, want 3", stats.BallotCount)
	}

	if got := ballots[0].Rankings[0].Candidates[0]; got != "Alice" {
		t.Errorf("b1 rank 1 = %q, want Alice", got)
	}
	rank1 := ballots[1].Rankings[0].Candidates
	if len(rank1) != 2 {
		t.Errorf("b2 rank 1 should hold two marks, got %v", rank1)
	}
	// b3 skipped rank 1; its only entry is at rank 2.
	if ballots[2].Rankings[0].Rank != 2 {
		t.Errorf("b3 first entry at rank %d, want 2", ballots[2].Rankings[0].Rank)
	}
}

// TestRead_PicksReaderByExtension tests format dispatch
func TestRead_PicksReaderByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ballots.json")
	if err := os.WriteFile(path, []byte(`[{"id":"b1","rankings":{"1":["Alice"]}}]`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	ballots, _, err := cvr.Read(path, "", testRules())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(ballots) != 1 {
		t.Errorf("expected 1 ballot, got %d", len(ballots))
	}

	if _, _, err := cvr.Read("ballots.xml", "", testRules()); err == nil {
		t.Error("expected an error for an unrecognized format")
	}
}
