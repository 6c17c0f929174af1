package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/process"
	"github.com/mpataki/maestro/internal/settings"
	"github.com/mpataki/maestro/internal/storage"
	"github.com/mpataki/maestro/internal/tasks"
)

const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docs.ErrNotConfigured):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "needs_setup": true})
	case errors.Is(err, docs.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, process.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrAlreadyRunning),
		errors.Is(err, docs.ErrStaleVersion):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, docs.ErrInvalidName),
		errors.Is(err, tasks.ErrTaskIndex),
		errors.Is(err, settings.ErrInvalidValue),
		errors.Is(err, batch.ErrEmptyQueue):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
