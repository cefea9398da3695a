package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
)

const maxResultLimit = 10000

func (r *Router) handleListResults(w http.ResponseWriter, req *http.Request) {
	if r.results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxResultLimit)
	}

	recs, err := r.results.List(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing results", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []result.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (r *Router) handleResultSummary(w http.ResponseWriter, req *http.Request) {
	if r.results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	counts, err := r.results.Count(req.Context())
	if err != nil {
		r.logger.Error("counting results", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (r *Router) handleDeleteResults(w http.ResponseWriter, req *http.Request) {
	if r.results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	n, err := r.results.DeleteAll(req.Context())
	if err != nil {
		r.logger.Error("deleting results", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.logger.Info("verification records cleared", "deleted", n)
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (r *Router) handleDeleteResult(w http.ResponseWriter, req *http.Request) {
	if r.results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	if err := r.results.Delete(req.Context(), id); err != nil {
		if errors.Is(err, result.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		r.logger.Error("deleting result", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
