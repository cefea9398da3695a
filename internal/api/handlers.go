package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeJSON reads a JSON request body into v. Unknown fields are rejected.
func decodeJSON(req *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, req.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func isJSON(req *http.Request) bool {
	ct := req.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(ct, "application/json")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
