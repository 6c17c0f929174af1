package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/storage"
)

type RunHandler struct {
	history *storage.Storage
}

func NewRunHandler(history *storage.Storage) *RunHandler {
	return &RunHandler{history: history}
}

// List handles GET /runs
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.history.ListBatchRuns(limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []*models.BatchRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Get handles GET /runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.history.GetBatchRun(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	execs, err := h.history.GetTaskExecutionsForRun(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if execs == nil {
		execs = []*models.TaskExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "executions": execs})
}
