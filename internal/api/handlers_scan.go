package api

import (
	"errors"
	"net/http"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/scanner"
)

// handleScanStart begins a scan in the background.
// POST /api/v1/scan/start
func (r *Router) handleScanStart(w http.ResponseWriter, req *http.Request) {
	if r.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	state, err := r.scanner.Start(req.Context())
	if errors.Is(err, scanner.ErrScanInProgress) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"state": state,
		})
		return
	}
	if err != nil {
		r.logger.Error("starting scan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"state":    state,
	})
}

// handleScanStop requests cooperative cancellation of the running scan.
// POST /api/v1/scan/stop
func (r *Router) handleScanStop(w http.ResponseWriter, _ *http.Request) {
	if r.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	err := r.scanner.Stop()
	switch {
	case errors.Is(err, scanner.ErrNoScanRunning), errors.Is(err, scanner.ErrStopAlreadyRequested):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		r.logger.Error("stopping scan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// handleScanStatus returns the live scan state.
// GET /api/v1/scan/status
func (r *Router) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	if r.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}
	writeJSON(w, http.StatusOK, r.scanner.Status(req.Context()))
}
