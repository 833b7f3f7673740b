package handlers

import (
	"context"

	"github.com/openrcv/tally/internal/auth"
	"github.com/openrcv/tally/internal/repository"
	"github.com/openrcv/tally/internal/websocket"
)

// TabulateFunc re-runs the contest tabulation and returns the new run ids.
// Nil when the server has no configured contest to re-run.
type TabulateFunc func(ctx context.Context) ([]string, error)

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	Store    repository.RunStore
	Auth     *auth.Auth
	Hub      *websocket.Hub
	Log      HTTPLogger
	Tabulate TabulateFunc
	// BaseURL is the externally reachable root used for the results QR
	// code.
	BaseURL string
}

// HTTPLogger is an interface for loggers that support HTTP logging control
type HTTPLogger interface {
	IsHTTPLoggingEnabled() bool
}

// New creates a new Handlers instance with all dependencies
func New(
	store repository.RunStore,
	adminAuth *auth.Auth,
	hub *websocket.Hub,
	log HTTPLogger,
	tabulate TabulateFunc,
	baseURL string,
) *Handlers {
	return &Handlers{
		Store:    store,
		Auth:     adminAuth,
		Hub:      hub,
		Log:      log,
		Tabulate: tabulate,
		BaseURL:  baseURL,
	}
}
