package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// conditionalHTTPLogger only logs HTTP requests when HTTP logging is enabled
func (h *Handlers) conditionalHTTPLogger(next http.Handler) http.Handler {
	logger := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Log != nil && h.Log.IsHTTPLoggingEnabled() {
			logger.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r)
		}
	})
}

// Router returns a configured chi router with all routes
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.conditionalHTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Timeout(60 * time.Second))

	// Live tabulation event stream
	r.Get("/ws", h.Hub.ServeWs)

	// Results API (public)
	r.Get("/api/contests", h.handleListRuns)
	r.Get("/api/contests/{runID}", h.handleGetRun)
	r.Get("/api/contests/{runID}/rounds/{number}", h.handleGetRound)
	r.Get("/api/contests/{runID}/audit", h.handleGetAudit)

	// Results QR code (public)
	r.Get("/contests/{runID}/qr", h.handleRunQR)

	// Admin API (protected)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.RequireAuthAPI)
		r.Post("/api/admin/tabulate", h.handleTabulate)
	})

	return r
}
