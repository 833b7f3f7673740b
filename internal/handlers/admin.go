package handlers

import "net/http"

// handleTabulate re-runs the configured contest and responds with the new
// run ids. Token-protected; wired only when the server was started with a
// contest config.
func (h *Handlers) handleTabulate(w http.ResponseWriter, r *http.Request) {
	if h.Tabulate == nil {
		respondError(w, Unavailable("no contest configured for re-tabulation"))
		return
	}
	runIDs, err := h.Tabulate(r.Context())
	if err != nil {
		respondError(w, InternalError())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_ids": runIDs,
	})
}
