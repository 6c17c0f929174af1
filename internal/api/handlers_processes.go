package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mpataki/maestro/internal/process"
)

type ProcessHandler struct {
	ctx   context.Context
	procs *process.Manager
}

func NewProcessHandler(ctx context.Context, procs *process.Manager) *ProcessHandler {
	return &ProcessHandler{ctx: ctx, procs: procs}
}

// List handles GET /processes
func (h *ProcessHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"processes": h.procs.List()})
}

// Spawn handles POST /processes
func (h *ProcessHandler) Spawn(w http.ResponseWriter, r *http.Request) {
	var cfg process.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if cfg.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	handle, err := h.procs.Spawn(h.ctx, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.procs.Get(handle.ID())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

type writeRequest struct {
	Data string `json:"data"`
}

// Write handles POST /processes/{id}/write
func (h *ProcessHandler) Write(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.procs.Write(chi.URLParam(r, "id"), []byte(req.Data)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Kill handles DELETE /processes/{id}
func (h *ProcessHandler) Kill(w http.ResponseWriter, r *http.Request) {
	if err := h.procs.Kill(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
