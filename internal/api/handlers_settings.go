package api

import (
	"net/http"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/logging"
)

func (r *Router) handleGetLogging(w http.ResponseWriter, _ *http.Request) {
	if r.logManager == nil {
		writeError(w, http.StatusServiceUnavailable, "logging manager not available")
		return
	}
	writeJSON(w, http.StatusOK, r.logManager.Config())
}

// handleUpdateLogging merges the submitted fields over the current config,
// applies the result at runtime and persists it.
// PUT /api/v1/settings/logging
func (r *Router) handleUpdateLogging(w http.ResponseWriter, req *http.Request) {
	if r.logManager == nil {
		writeError(w, http.StatusServiceUnavailable, "logging manager not available")
		return
	}
	if !isJSON(req) {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	var body struct {
		Level          *string `json:"level"`
		Format         *string `json:"format"`
		FilePath       *string `json:"file_path"`
		FileMaxSizeMB  *int    `json:"file_max_size_mb"`
		FileMaxFiles   *int    `json:"file_max_files"`
		FileMaxAgeDays *int    `json:"file_max_age_days"`
	}
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := r.logManager.Config()
	if body.Level != nil {
		cfg.Level = *body.Level
	}
	if body.Format != nil {
		cfg.Format = *body.Format
	}
	if body.FilePath != nil {
		cfg.FilePath = *body.FilePath
	}
	if body.FileMaxSizeMB != nil {
		cfg.FileMaxSizeMB = *body.FileMaxSizeMB
	}
	if body.FileMaxFiles != nil {
		cfg.FileMaxFiles = *body.FileMaxFiles
	}
	if body.FileMaxAgeDays != nil {
		cfg.FileMaxAgeDays = *body.FileMaxAgeDays
	}

	if !logging.ValidLevel(cfg.Level) {
		writeError(w, http.StatusBadRequest, "invalid level; must be debug, info, warn, or error")
		return
	}
	if !logging.ValidFormat(cfg.Format) {
		writeError(w, http.StatusBadRequest, "invalid format; must be text or json")
		return
	}

	if err := r.logManager.Reconfigure(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.logSettings != nil {
		if err := r.logSettings.SaveLogging(req.Context(), cfg); err != nil {
			r.logger.Error("persisting logging settings", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist setting")
			return
		}
	}

	r.logger.Info("logging reconfigured", "config", cfg.String())
	writeJSON(w, http.StatusOK, cfg)
}
