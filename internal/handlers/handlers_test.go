package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openrcv/tally/internal/auth"
	"github.com/openrcv/tally/internal/handlers"
	"github.com/openrcv/tally/internal/logger"
	"github.com/openrcv/tally/internal/models"
	"github.com/openrcv/tally/internal/repository"
	"github.com/openrcv/tally/internal/testutil"
	"github.com/openrcv/tally/internal/websocket"
)

func setupServer(t *testing.T, tabulate handlers.TabulateFunc) (*httptest.Server, *repository.Repository) {
	t.Helper()
	repo := testutil.NewTestRepository(t)
	log := logger.New()
	hub := websocket.New(log)
	hub.Start()

	h := handlers.New(repo, auth.New("operator-secret"), hub, log, tabulate, "http://results.local")
	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)
	return server, repo
}

func storedRun(t *testing.T, repo *repository.Repository) *models.ContestRun {
	t.Helper()
	run := &models.ContestRun{
		RunID:       "run-1",
		ContestName: "City Council",
		Status:      models.RunStatusCompleted,
		Threshold:   "6",
		StartedAt:   time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC),
		FinishedAt:  time.Date(2026, 8, 5, 12, 0, 2, 0, time.UTC),
		Rounds: []models.RoundRecord{
			{
				Number:          1,
				ResidualSurplus: "0",
				Tallies: []models.TallyRow{
					{Candidate: "A", Votes: "5"},
					{Candidate: "B", Votes: "3"},
				},
				Transfers: []models.TransferRow{
					{Source: "initial", Destination: "A", Value: "5"},
				},
			},
		},
		Outcomes: []models.Outcome{
			{Candidate: "A", Kind: models.OutcomeWin, Round: 1},
		},
		AuditEvents: []models.AuditEvent{
			{Seq: 0, Round: 1, Type: "round_started", Payload: `{"kind":"round_started","round":1}`},
		},
	}
	if err := repo.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	return run
}

// TestListRuns_ReturnsSummaries tests GET /api/contests
func TestListRuns_ReturnsSummaries(t *testing.T) {
	server, repo := setupServer(t, nil)
	storedRun(t, repo)

	resp, err := http.Get(server.URL + "/api/contests")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var summaries []models.RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].RunID != "run-1" {
		t.Errorf("unexpected summaries: %+v", summaries)
	}
	if len(summaries[0].Winners) != 1 || summaries[0].Winners[0] != "A" {
		t.Errorf("winners = %v, want [A]", summaries[0].Winners)
	}
}

// TestGetRun_FullRun tests GET /api/contests/{runID}
func TestGetRun_FullRun(t *testing.T) {
	server, repo := setupServer(t, nil)
	storedRun(t, repo)

	resp, err := http.Get(server.URL + "/api/contests/run-1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var run models.ContestRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if run.Threshold != "6" || len(run.Rounds) != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
}

// TestGetRun_NotFound tests the 404 path
func TestGetRun_NotFound(t *testing.T) {
	server, _ := setupServer(t, nil)
	resp, err := http.Get(server.URL + "/api/contests/missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// TestGetRound_SingleRound tests GET /api/contests/{runID}/rounds/{n}
func TestGetRound_SingleRound(t *testing.T) {
	server, repo := setupServer(t, nil)
	storedRun(t, repo)

	resp, err := http.Get(server.URL + "/api/contests/run-1/rounds/1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var round models.RoundRecord
	if err := json.NewDecoder(resp.Body).Decode(&round); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(round.Tallies) != 2 {
		t.Errorf("expected 2 tallies, got %+v", round.Tallies)
	}

	badResp, err := http.Get(server.URL + "/api/contests/run-1/rounds/zero")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", badResp.StatusCode)
	}
}

// TestGetAudit_Pages tests GET /api/contests/{runID}/audit
func TestGetAudit_Pages(t *testing.T) {
	server, repo := setupServer(t, nil)
	storedRun(t, repo)

	resp, err := http.Get(server.URL + "/api/contests/run-1/audit?limit=10")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var events []models.AuditEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != "round_started" {
		t.Errorf("unexpected events: %+v", events)
	}
}

// TestRunQR_ServesPNG tests the results QR endpoint
func TestRunQR_ServesPNG(t *testing.T) {
	server, repo := setupServer(t, nil)
	storedRun(t, repo)

	resp, err := http.Get(server.URL + "/contests/run-1/qr")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %s, want image/png", ct)
	}
}

// TestTabulate_RequiresToken tests the protected admin trigger
func TestTabulate_RequiresToken(t *testing.T) {
	called := false
	server, _ := setupServer(t, func(ctx context.Context) ([]string, error) {
		called = true
		return []string{"run-2"}, nil
	})

	// Without the token: 401.
	resp, err := http.Post(server.URL+"/api/admin/tabulate", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if called {
		t.Fatal("tabulate must not run without authorization")
	}

	// With the token: 202 and the new run id.
	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/admin/tabulate", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer operator-secret")
	authResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer authResp.Body.Close()
	if authResp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", authResp.StatusCode)
	}
	if !called {
		t.Error("tabulate should have run")
	}
}

// TestTabulate_UnavailableWithoutContest tests the 503 path when no
// contest is configured
func TestTabulate_UnavailableWithoutContest(t *testing.T) {
	server, _ := setupServer(t, nil)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/admin/tabulate", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer operator-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
