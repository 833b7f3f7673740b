package repository

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openrcv/tally/internal/models"
)

// Repository persists tabulation runs to SQLite. Every decimal is stored
// as its exact string form; nothing in the store is ever a float.
type Repository struct {
	db *sql.DB
}

// New creates a new Repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		return nil, err
	}
	return repo, nil
}

// DB returns the underlying database connection (for transactions)
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS contests (
			run_id TEXT PRIMARY KEY,
			contest_name TEXT NOT NULL,
			config_json TEXT,
			status TEXT NOT NULL,
			threshold TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS round_tallies (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			candidate TEXT NOT NULL,
			votes TEXT NOT NULL,
			precinct TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (run_id) REFERENCES contests(run_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS round_details (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			residual_surplus TEXT NOT NULL,
			PRIMARY KEY (run_id, round),
			FOREIGN KEY (run_id) REFERENCES contests(run_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			source TEXT NOT NULL,
			destination TEXT NOT NULL,
			value TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES contests(run_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			candidate TEXT NOT NULL,
			kind TEXT NOT NULL,
			round INTEGER NOT NULL,
			FOREIGN KEY (run_id) REFERENCES contests(run_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			round INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES contests(run_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_round_tallies_run_round
			ON round_tallies(run_id, round)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_run_round
			ON transfers(run_id, round)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun persists a complete tabulation run in one transaction.
func (r *Repository) SaveRun(ctx context.Context, run *models.ContestRun) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contests (run_id, contest_name, config_json, status, threshold, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.ContestName, run.ConfigJSON, run.Status, run.Threshold,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return err
	}

	for _, round := range run.Rounds {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO round_details (run_id, round, residual_surplus) VALUES (?, ?, ?)
		`, run.RunID, round.Number, round.ResidualSurplus)
		if err != nil {
			return err
		}
		for _, tally := range round.Tallies {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO round_tallies (run_id, round, candidate, votes, precinct)
				VALUES (?, ?, ?, ?, ?)
			`, run.RunID, round.Number, tally.Candidate, tally.Votes, tally.Precinct)
			if err != nil {
				return err
			}
		}
		for _, transfer := range round.Transfers {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO transfers (run_id, round, source, destination, value)
				VALUES (?, ?, ?, ?, ?)
			`, run.RunID, round.Number, transfer.Source, transfer.Destination, transfer.Value)
			if err != nil {
				return err
			}
		}
	}

	for seq, outcome := range run.Outcomes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outcomes (run_id, seq, candidate, kind, round) VALUES (?, ?, ?, ?, ?)
		`, run.RunID, seq, outcome.Candidate, outcome.Kind, outcome.Round)
		if err != nil {
			return err
		}
	}

	for _, event := range run.AuditEvents {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_events (run_id, seq, round, event_type, payload)
			VALUES (?, ?, ?, ?, ?)
		`, run.RunID, event.Seq, event.Round, event.Type, event.Payload)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRuns returns summaries of all persisted runs, most recent first.
func (r *Repository) ListRuns(ctx context.Context) ([]models.RunSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, contest_name, status, threshold, started_at
		FROM contests ORDER BY started_at DESC, run_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RunSummary
	for rows.Next() {
		var summary models.RunSummary
		var startedAt time.Time
		if err := rows.Scan(&summary.RunID, &summary.ContestName, &summary.Status,
			&summary.Threshold, &startedAt); err != nil {
			return nil, err
		}
		summary.StartedAt = startedAt
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		winners, err := r.runWinners(ctx, summaries[i].RunID)
		if err != nil {
			return nil, err
		}
		summaries[i].Winners = winners
	}
	return summaries, nil
}

// runWinners returns a run's winning candidates in declaration order.
func (r *Repository) runWinners(ctx context.Context, runID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT candidate FROM outcomes WHERE run_id = ? AND kind = ? ORDER BY seq
	`, runID, models.OutcomeWin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var winners []string
	for rows.Next() {
		var candidate string
		if err := rows.Scan(&candidate); err != nil {
			return nil, err
		}
		winners = append(winners, candidate)
	}
	return winners, rows.Err()
}

// GetRun loads a run with its rounds and outcomes. Audit events are large
// and paged separately via ListAuditEvents.
func (r *Repository) GetRun(ctx context.Context, runID string) (*models.ContestRun, error) {
	run := &models.ContestRun{RunID: runID}
	err := r.db.QueryRowContext(ctx, `
		SELECT contest_name, config_json, status, threshold, started_at, finished_at
		FROM contests WHERE run_id = ?
	`, runID).Scan(&run.ContestName, &run.ConfigJSON, &run.Status, &run.Threshold,
		&run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	numRounds, err := r.numRounds(ctx, runID)
	if err != nil {
		return nil, err
	}
	for number := 1; number <= numRounds; number++ {
		round, err := r.GetRound(ctx, runID, number)
		if err != nil {
			return nil, err
		}
		run.Rounds = append(run.Rounds, *round)
	}

	outcomeRows, err := r.db.QueryContext(ctx, `
		SELECT candidate, kind, round FROM outcomes WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer outcomeRows.Close()
	for outcomeRows.Next() {
		var outcome models.Outcome
		if err := outcomeRows.Scan(&outcome.Candidate, &outcome.Kind, &outcome.Round); err != nil {
			return nil, err
		}
		run.Outcomes = append(run.Outcomes, outcome)
	}
	return run, outcomeRows.Err()
}

func (r *Repository) numRounds(ctx context.Context, runID string) (int, error) {
	var numRounds int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(round), 0) FROM round_details WHERE run_id = ?
	`, runID).Scan(&numRounds)
	return numRounds, err
}

// GetRound loads one round's tallies and transfers.
func (r *Repository) GetRound(ctx context.Context, runID string, number int) (*models.RoundRecord, error) {
	round := &models.RoundRecord{Number: number}
	err := r.db.QueryRowContext(ctx, `
		SELECT residual_surplus FROM round_details WHERE run_id = ? AND round = ?
	`, runID, number).Scan(&round.ResidualSurplus)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tallyRows, err := r.db.QueryContext(ctx, `
		SELECT candidate, votes, precinct FROM round_tallies
		WHERE run_id = ? AND round = ? ORDER BY precinct, candidate
	`, runID, number)
	if err != nil {
		return nil, err
	}
	defer tallyRows.Close()
	for tallyRows.Next() {
		var tally models.TallyRow
		if err := tallyRows.Scan(&tally.Candidate, &tally.Votes, &tally.Precinct); err != nil {
			return nil, err
		}
		round.Tallies = append(round.Tallies, tally)
	}
	if err := tallyRows.Err(); err != nil {
		return nil, err
	}

	transferRows, err := r.db.QueryContext(ctx, `
		SELECT source, destination, value FROM transfers
		WHERE run_id = ? AND round = ? ORDER BY source, destination
	`, runID, number)
	if err != nil {
		return nil, err
	}
	defer transferRows.Close()
	for transferRows.Next() {
		var transfer models.TransferRow
		if err := transferRows.Scan(&transfer.Source, &transfer.Destination, &transfer.Value); err != nil {
			return nil, err
		}
		round.Transfers = append(round.Transfers, transfer)
	}
	return round, transferRows.Err()
}

// ListAuditEvents pages through a run's audit trail in emission order.
// A limit of 0 means no limit.
func (r *Repository) ListAuditEvents(ctx context.Context, runID string, limit, offset int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, round, event_type, payload FROM audit_events
		WHERE run_id = ? ORDER BY seq LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		if err := rows.Scan(&event.Seq, &event.Round, &event.Type, &event.Payload); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
