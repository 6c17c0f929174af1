package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/playbook"
)

type BatchHandler struct {
	ctx          context.Context
	store        *docs.Store
	ctrl         *batch.Controller
	playbookDirs []string
	defaults     batch.Options
}

func NewBatchHandler(ctx context.Context, store *docs.Store, ctrl *batch.Controller, playbookDirs []string, defaults batch.Options) *BatchHandler {
	return &BatchHandler{ctx: ctx, store: store, ctrl: ctrl, playbookDirs: playbookDirs, defaults: defaults}
}

// State handles GET /batch
func (h *BatchHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.State())
}

type startRequest struct {
	Playbook     string             `json:"playbook,omitempty"`
	Documents    []batch.QueueEntry `json:"documents,omitempty"`
	Loop         bool               `json:"loop,omitempty"`
	MaxLoops     int                `json:"max_loops,omitempty"`
	Prompt       string             `json:"prompt,omitempty"`
	PromptScript string             `json:"prompt_script,omitempty"`
	PTY          bool               `json:"pty,omitempty"`
	Worktree     string             `json:"worktree,omitempty"`
}

// Start handles POST /batch/start
func (h *BatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	queue, opts, err := h.resolve(req)
	if err != nil {
		if errors.Is(err, docs.ErrNotConfigured) || errors.Is(err, docs.ErrNotFound) {
			writeErr(w, err)
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if err := h.ctrl.Start(h.ctx, queue, opts); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.ctrl.State())
}

func (h *BatchHandler) resolve(req startRequest) ([]batch.QueueEntry, batch.Options, error) {
	opts := h.defaults
	if req.Playbook != "" {
		playbooks, err := playbook.LoadAll(h.playbookDirs)
		if err != nil {
			return nil, opts, err
		}
		pb, ok := playbooks[req.Playbook]
		if !ok {
			return nil, opts, fmt.Errorf("%w: playbook %q", docs.ErrNotFound, req.Playbook)
		}
		if err := playbook.Validate(pb, h.store); err != nil {
			return nil, opts, err
		}
		queue, opts := batch.FromPlaybook(pb, opts)
		opts.PTY = opts.PTY || req.PTY
		return queue, opts, nil
	}

	opts.Loop = req.Loop
	opts.MaxLoops = req.MaxLoops
	opts.PTY = req.PTY
	if req.Prompt != "" {
		opts.Prompt = req.Prompt
	}
	if req.PromptScript != "" {
		opts.PromptScript = req.PromptScript
	}
	if req.Worktree != "" {
		opts.Worktree = req.Worktree
	}
	return req.Documents, opts, nil
}

// Stop handles POST /batch/stop
func (h *BatchHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Stop()
	writeJSON(w, http.StatusAccepted, h.ctrl.State())
}

// Events handles GET /batch/events as a server-sent event stream.
func (h *BatchHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	state, _ := json.Marshal(h.ctrl.State())
	fmt.Fprintf(w, "event: state\ndata: %s\n\n", state)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
