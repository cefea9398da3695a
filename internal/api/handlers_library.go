package api

import (
	"errors"
	"net/http"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
)

type libraryRequest struct {
	Name    *string `json:"name"`
	Path    *string `json:"path"`
	Type    *string `json:"type"`
	Enabled *bool   `json:"enabled"`
}

// apply copies the fields present in the request onto lib.
func (b libraryRequest) apply(lib *library.Library) {
	if b.Name != nil {
		lib.Name = *b.Name
	}
	if b.Path != nil {
		lib.Path = *b.Path
	}
	if b.Type != nil {
		lib.Type = *b.Type
	}
	if b.Enabled != nil {
		lib.Enabled = *b.Enabled
	}
}

// handleListLibraries returns all libraries as JSON.
// GET /api/v1/libraries
func (r *Router) handleListLibraries(w http.ResponseWriter, req *http.Request) {
	if r.libraries == nil {
		writeError(w, http.StatusServiceUnavailable, "library registry not configured")
		return
	}
	libs, err := r.libraries.List(req.Context())
	if err != nil {
		r.logger.Error("listing libraries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if libs == nil {
		libs = []library.Library{}
	}
	writeJSON(w, http.StatusOK, libs)
}

// handleGetLibrary returns a single library.
// GET /api/v1/libraries/{id}
func (r *Router) handleGetLibrary(w http.ResponseWriter, req *http.Request) {
	if r.libraries == nil {
		writeError(w, http.StatusServiceUnavailable, "library registry not configured")
		return
	}
	lib, err := r.libraries.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		r.libraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

// handleCreateLibrary registers a new library. Libraries are enabled unless
// the request says otherwise.
// POST /api/v1/libraries
func (r *Router) handleCreateLibrary(w http.ResponseWriter, req *http.Request) {
	if r.libraries == nil {
		writeError(w, http.StatusServiceUnavailable, "library registry not configured")
		return
	}
	if !isJSON(req) {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}
	var body libraryRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lib := &library.Library{Enabled: true}
	body.apply(lib)
	if err := r.libraries.Create(req.Context(), lib); err != nil {
		r.libraryError(w, err)
		return
	}
	r.logger.Info("library created", "id", lib.ID, "path", lib.Path, "type", lib.Type)
	writeJSON(w, http.StatusCreated, lib)
}

// handleUpdateLibrary applies a partial update.
// PUT /api/v1/libraries/{id}
func (r *Router) handleUpdateLibrary(w http.ResponseWriter, req *http.Request) {
	if r.libraries == nil {
		writeError(w, http.StatusServiceUnavailable, "library registry not configured")
		return
	}
	if !isJSON(req) {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}
	var body libraryRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lib, err := r.libraries.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		r.libraryError(w, err)
		return
	}
	body.apply(lib)
	if err := r.libraries.Update(req.Context(), lib); err != nil {
		r.libraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

// handleDeleteLibrary removes a library. Its verification records stay.
// DELETE /api/v1/libraries/{id}
func (r *Router) handleDeleteLibrary(w http.ResponseWriter, req *http.Request) {
	if r.libraries == nil {
		writeError(w, http.StatusServiceUnavailable, "library registry not configured")
		return
	}
	if err := r.libraries.Delete(req.Context(), req.PathValue("id")); err != nil {
		r.libraryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) libraryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		writeError(w, http.StatusNotFound, "library not found")
	case errors.Is(err, library.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, library.ErrDuplicatePath):
		writeError(w, http.StatusConflict, err.Error())
	default:
		r.logger.Error("library operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
