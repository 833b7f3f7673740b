package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/openrcv/tally/internal/app"
	"github.com/openrcv/tally/internal/auth"
	"github.com/openrcv/tally/internal/browser"
	"github.com/openrcv/tally/internal/config"
	"github.com/openrcv/tally/internal/cvr"
	"github.com/openrcv/tally/internal/errors"
	"github.com/openrcv/tally/internal/handlers"
	"github.com/openrcv/tally/internal/logger"
	"github.com/openrcv/tally/internal/repository"
	"github.com/openrcv/tally/internal/session"
)

func main() {
	configPath := flag.String("config", "", "contest configuration file (required)")
	outDir := flag.String("out", "", "output directory for summary and audit files (overrides the config)")
	dbPath := flag.String("db", "", "SQLite results database; in-memory when serving without one")
	serveAddr := flag.String("serve", "", "serve the results API on this address after tabulating (e.g. :8080)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	adminToken := flag.String("admin-token", "", "operator token for the admin API (generated when empty)")
	convertPath := flag.String("convert", "", "convert a CSV cast-vote-record file to the JSON ballot format and exit")
	httpLog := flag.Bool("http-log", false, "log HTTP requests on the results server")
	openBrowser := flag.Bool("open", false, "open the results API in the default browser after serving starts")
	flag.Parse()

	log := logger.NewWithLevel(logger.ParseLevel(*logLevel))
	if *httpLog {
		log.EnableHTTPLogging()
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: rcvtally -config contest.json [-out dir] [-db results.db] [-serve addr]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *convertPath != "" {
		if err := runConvert(log, *configPath, *convertPath); err != nil {
			fail(log, err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serveAddr == "" {
		runBatch(ctx, log, *configPath, *outDir, *dbPath)
		return
	}
	runServer(ctx, log, *configPath, *outDir, *dbPath, *serveAddr, *adminToken, *openBrowser)
}

// runBatch tabulates once and exits.
func runBatch(ctx context.Context, log logger.Logger, configPath, outDir, dbPath string) {
	opts := session.Options{OutputDir: outDir}
	if dbPath != "" {
		repo, err := repository.New(dbPath)
		if err != nil {
			fail(log, err)
		}
		defer repo.Close()
		opts.Store = repo
	}

	output, err := session.New(log, opts).RunFile(ctx, configPath)
	if err != nil {
		fail(log, err)
	}
	fmt.Printf("winners: %s\n", strings.Join(output.FinalWinners(), ", "))
}

// runServer tabulates, then serves the results API with the websocket
// event stream and the token-protected re-tabulation trigger.
func runServer(ctx context.Context, log logger.Logger, configPath, outDir, dbPath, serveAddr, adminToken string, openBrowser bool) {
	storePath := dbPath
	if storePath == "" {
		storePath = ":memory:"
	}
	adminAuth := auth.New(adminToken)

	var s *session.Session
	tabulate := handlers.TabulateFunc(func(ctx context.Context) ([]string, error) {
		output, err := s.RunFile(ctx, configPath)
		if err != nil {
			return nil, err
		}
		var runIDs []string
		for _, run := range output.Runs {
			runIDs = append(runIDs, run.RunID)
		}
		return runIDs, nil
	})

	a, err := app.New(log, storePath, adminAuth, tabulate)
	if err != nil {
		fail(log, err)
	}
	defer a.Close()

	s = session.New(log, session.Options{
		Store:     a.Repo(),
		Observer:  a.Hub(),
		OutputDir: outDir,
	})
	output, err := s.RunFile(ctx, configPath)
	if err != nil {
		fail(log, err)
	}
	fmt.Printf("winners: %s\n", strings.Join(output.FinalWinners(), ", "))
	if adminToken == "" {
		log.Info("Generated operator token", "token", adminAuth.Token())
	}

	if openBrowser {
		go func() {
			url := fmt.Sprintf("http://localhost%s/api/contests", serveAddr)
			if err := browser.Open(url); err != nil {
				log.Warn("Could not open browser", "error", err)
			}
		}()
	}

	if err := a.Run(serveAddr); err != nil {
		fail(log, err)
	}
}

// runConvert normalizes a CSV ballot file into the JSON ballot format,
// written next to the source with a .json extension.
func runConvert(log logger.Logger, configPath, csvPath string) error {
	contest, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rules, err := contest.ToRules()
	if err != nil {
		return err
	}

	ballots, stats, err := cvr.ReadCSV(csvPath, rules)
	if err != nil {
		return err
	}
	data, err := cvr.MarshalBallots(ballots)
	if err != nil {
		return err
	}

	outPath := strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".json"
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return err
	}
	log.Info("Converted cast-vote records", "from", csvPath, "to", outPath,
		"ballots", stats.BallotCount)
	return nil
}

func fail(log logger.Logger, err error) {
	switch errors.KindOf(err) {
	case errors.ErrConfigInvalid:
		log.Error("Invalid contest configuration", "error", err)
	case errors.ErrCancelled:
		log.Error("Tabulation cancelled", "error", err)
	case errors.ErrTieBreakRequired:
		log.Error("Interactive tie-break required but not available", "error", err)
	default:
		log.Error("Tabulation failed", "error", err)
	}
	os.Exit(1)
}
