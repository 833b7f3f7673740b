package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/openrcv/tally/internal/repository"
)

// handleListRuns returns summaries of all persisted tabulation runs.
func (h *Handlers) handleListRuns(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Store.ListRuns(r.Context())
	if err != nil {
		respondError(w, InternalError())
		return
	}
	respondOK(w, summaries)
}

// handleGetRun returns a complete run: rounds, outcomes and threshold.
func (h *Handlers) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.Store.GetRun(r.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, NotFound("no such run"))
		return
	}
	if err != nil {
		respondError(w, InternalError())
		return
	}
	respondOK(w, run)
}

// handleGetRound returns one round's tallies and transfers.
func (h *Handlers) handleGetRound(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		respondError(w, BadRequest("round number must be a positive integer"))
		return
	}
	round, err := h.Store.GetRound(r.Context(), runID, number)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, NotFound("no such round"))
		return
	}
	if err != nil {
		respondError(w, InternalError())
		return
	}
	respondOK(w, round)
}

// handleGetAudit pages through a run's audit events.
func (h *Handlers) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	limit := queryInt(r, "limit", 500)
	offset := queryInt(r, "offset", 0)

	events, err := h.Store.ListAuditEvents(r.Context(), runID, limit, offset)
	if err != nil {
		respondError(w, InternalError())
		return
	}
	respondOK(w, events)
}

// handleRunQR serves a PNG QR code pointing at the run's public results
// URL, for posting at a counting location.
func (h *Handlers) handleRunQR(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := h.Store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, NotFound("no such run"))
		} else {
			respondError(w, InternalError())
		}
		return
	}

	url := fmt.Sprintf("%s/api/contests/%s", h.BaseURL, runID)
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		respondError(w, InternalError())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
