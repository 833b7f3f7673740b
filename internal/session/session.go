// Package session orchestrates a tabulation run: load the contest config,
// read the cast-vote records, drive the engine (once, or once per seat in
// sequential mode), persist the results and write the output files.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openrcv/tally/internal/config"
	"github.com/openrcv/tally/internal/cvr"
	"github.com/openrcv/tally/internal/errors"
	"github.com/openrcv/tally/internal/logger"
	"github.com/openrcv/tally/internal/models"
	"github.com/openrcv/tally/internal/repository"
	"github.com/openrcv/tally/internal/results"
	"github.com/openrcv/tally/internal/tabulator"
)

// Options configures a Session. Every field is optional.
type Options struct {
	// Store persists completed runs when set.
	Store repository.RunStore
	// Observer receives engine events in addition to the session's own
	// logging and audit recording (e.g. a websocket hub).
	Observer tabulator.Observer
	// Resolver supplies interactive tie-break decisions. Without one,
	// interactive modes fail with a TieBreakRequired error.
	Resolver tabulator.TieBreakResolver
	// OutputDir overrides the contest's configured output directory.
	OutputDir string
}

// Session runs tabulations.
type Session struct {
	log  logger.Logger
	opts Options
}

// New creates a Session.
func New(log logger.Logger, opts Options) *Session {
	return &Session{log: log, opts: opts}
}

// Output is everything a session run produced. Sequential contests yield
// one entry per seat; all other modes yield exactly one.
type Output struct {
	Runs         []*models.ContestRun
	Results      []*tabulator.Results
	SummaryPaths []string
	AuditPaths   []string
	// SequentialWinners is set for sequential mode, in seat order.
	SequentialWinners []string
}

// FinalWinners returns the contest's winners: the per-seat winners in
// sequential mode, the single run's winners otherwise.
func (o *Output) FinalWinners() []string {
	if len(o.SequentialWinners) > 0 {
		return o.SequentialWinners
	}
	if len(o.Runs) == 0 {
		return nil
	}
	return o.Runs[len(o.Runs)-1].Winners()
}

// RunFile loads a contest config file and tabulates it. Relative CVR
// paths resolve against the config file's directory.
func (s *Session) RunFile(ctx context.Context, configPath string) (*Output, error) {
	contest, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, contest, filepath.Dir(configPath))
}

// Run tabulates a loaded contest.
func (s *Session) Run(ctx context.Context, contest *config.Contest, baseDir string) (*Output, error) {
	rules, err := contest.ToRules()
	if err != nil {
		return nil, err
	}

	ballots, err := s.readBallots(contest, rules, baseDir)
	if err != nil {
		return nil, err
	}
	s.log.Info("Tabulating contest", "contest", contest.ContestName, "ballots", len(ballots))

	outputDir := s.opts.OutputDir
	if outputDir == "" {
		outputDir = contest.OutputDirectory
	}
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrInvalidInput, "cannot create output directory")
		}
	}

	configJSON, err := json.Marshal(contest)
	if err != nil {
		return nil, errors.Internal(err)
	}

	if rules.WinnerElectionMode == tabulator.MultiSeatSequentialWinnerTakesAll {
		return s.runSequential(ctx, rules, ballots, string(configJSON), outputDir)
	}

	output := &Output{}
	if err := s.runOnce(ctx, rules, ballots, string(configJSON), outputDir, uuid.NewString(), output); err != nil {
		return nil, err
	}
	return output, nil
}

// runOnce drives one engine pass and records everything it produced.
func (s *Session) runOnce(
	ctx context.Context,
	rules *tabulator.Rules,
	ballots []tabulator.Ballot,
	configJSON, outputDir, runID string,
	output *Output,
) error {
	recorder := results.NewRecorder()
	observer := tabulator.Observers(recorder, s.loggerObserver(), s.opts.Observer)

	engine, err := tabulator.NewEngine(rules, ballots, observer, s.opts.Resolver)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	tabulation, err := engine.Tabulate(ctx)
	if err != nil {
		return err
	}
	finishedAt := time.Now()

	run := buildRun(runID, configJSON, startedAt, finishedAt, tabulation, recorder.Events())
	output.Runs = append(output.Runs, run)
	output.Results = append(output.Results, tabulation)

	if s.opts.Store != nil {
		if err := s.opts.Store.SaveRun(ctx, run); err != nil {
			return err
		}
	}
	if outputDir != "" {
		summaryPath, err := results.WriteSummary(outputDir, run)
		if err != nil {
			return err
		}
		auditPath, err := results.WriteAuditLog(outputDir, run, tabulation.BallotAudits)
		if err != nil {
			return err
		}
		output.SummaryPaths = append(output.SummaryPaths, summaryPath)
		output.AuditPaths = append(output.AuditPaths, auditPath)
		s.log.Info("Results written", "summary", summaryPath, "audit", auditPath)
	}

	s.log.Info("Tabulation complete", "run_id", runID,
		"rounds", tabulation.NumRounds(), "winners", tabulation.WinnerList())
	return nil
}

// readBallots loads every configured CVR file.
func (s *Session) readBallots(contest *config.Contest, rules *tabulator.Rules, baseDir string) ([]tabulator.Ballot, error) {
	if len(contest.CvrFiles) == 0 {
		return nil, errors.ConfigInvalid("no cast-vote-record files configured")
	}
	var ballots []tabulator.Ballot
	for _, source := range contest.CvrFiles {
		path := source.FilePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		fileBallots, stats, err := cvr.Read(path, source.Format, rules)
		if err != nil {
			return nil, err
		}
		s.log.Info("Read cast-vote records", "file", path,
			"ballots", stats.BallotCount, "undeclared_marks", stats.UndeclaredMarks,
			"ignored_marks", stats.IgnoredMarks)
		ballots = append(ballots, fileBallots...)
	}
	return ballots, nil
}

// loggerObserver renders engine events through the session's logger. The
// engine itself never formats text.
func (s *Session) loggerObserver() tabulator.Observer {
	return tabulator.ObserverFunc(func(ev tabulator.Event) {
		switch ev.Kind {
		case tabulator.EventRoundStarted:
			s.log.Info("Round started", "round", ev.Round)
		case tabulator.EventThresholdSet:
			s.log.Info("Winning threshold set", "round", ev.Round, "threshold", ev.Value)
		case tabulator.EventCandidateWon:
			s.log.Info("Candidate won", "round", ev.Round, "candidate", ev.Candidate, "votes", ev.Value)
		case tabulator.EventCandidateEliminated:
			s.log.Info("Candidate eliminated", "round", ev.Round, "candidate", ev.Candidate,
				"reason", ev.Reason, "detail", ev.Explanation)
		case tabulator.EventSurplusTransferred:
			s.log.Info("Surplus transferred", "round", ev.Round, "candidate", ev.Candidate,
				"fraction", ev.Value)
		case tabulator.EventTieBreakResolved:
			s.log.Info("Tie-break resolved", "round", ev.Round, "candidate", ev.Candidate,
				"context", ev.Reason, "explanation", ev.Explanation)
		case tabulator.EventBallotExhausted:
			s.log.Debug("Ballot exhausted", "round", ev.Round, "ballot", ev.BallotID,
				"reason", ev.Reason, "value", ev.Value)
		case tabulator.EventTabulationComplete:
			s.log.Info("Tabulation complete", "rounds", ev.Round)
		}
	})
}

// buildRun converts engine results into the persisted run shape.
func buildRun(
	runID, configJSON string,
	startedAt, finishedAt time.Time,
	tabulation *tabulator.Results,
	events []models.AuditEvent,
) *models.ContestRun {
	run := &models.ContestRun{
		RunID:       runID,
		ContestName: tabulation.ContestName,
		ConfigJSON:  configJSON,
		Status:      models.RunStatusCompleted,
		Threshold:   tabulation.Threshold.String(),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		AuditEvents: events,
	}

	for _, round := range tabulation.Rounds {
		record := models.RoundRecord{
			Number:          round.Number,
			ResidualSurplus: round.ResidualSurplus.String(),
		}
		for _, candidate := range sortedKeys(round.Tallies) {
			record.Tallies = append(record.Tallies, models.TallyRow{
				Candidate: candidate,
				Votes:     round.Tallies[candidate].String(),
			})
		}
		for _, precinct := range sortedKeys(round.PrecinctTallies) {
			tallies := round.PrecinctTallies[precinct]
			for _, candidate := range sortedKeys(tallies) {
				record.Tallies = append(record.Tallies, models.TallyRow{
					Candidate: candidate,
					Votes:     tallies[candidate].String(),
					Precinct:  precinct,
				})
			}
		}
		for _, source := range sortedKeys(round.Transfers) {
			destinations := round.Transfers[source]
			for _, destination := range sortedKeys(destinations) {
				record.Transfers = append(record.Transfers, models.TransferRow{
					Source:      source,
					Destination: destination,
					Value:       destinations[destination].String(),
				})
			}
		}
		run.Rounds = append(run.Rounds, record)
	}

	// Outcomes in chronological order: within a round, wins precede
	// eliminations only if they happened (a round never has both).
	for round := 1; round <= tabulation.NumRounds(); round++ {
		for _, winner := range tabulation.Winners {
			if winner.Round == round {
				run.Outcomes = append(run.Outcomes, models.Outcome{
					Candidate: winner.Candidate, Kind: models.OutcomeWin, Round: round,
				})
			}
		}
		for _, loser := range tabulation.Eliminations {
			if loser.Round == round {
				run.Outcomes = append(run.Outcomes, models.Outcome{
					Candidate: loser.Candidate, Kind: models.OutcomeEliminate, Round: round,
				})
			}
		}
	}
	return run
}
