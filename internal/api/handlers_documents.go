package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/tasks"
)

type DocumentHandler struct {
	store *docs.Store
}

func NewDocumentHandler(store *docs.Store) *DocumentHandler {
	return &DocumentHandler{store: store}
}

type documentSummary struct {
	Filename  string `json:"filename"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Version   int64  `json:"version"`
}

// List handles GET /documents
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List()
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]documentSummary, 0, len(names))
	for _, name := range names {
		doc, err := h.store.Load(name)
		if err != nil {
			continue
		}
		completed, total := doc.Counts()
		out = append(out, documentSummary{Filename: name, Completed: completed, Total: total, Version: doc.Version})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"folder":    h.store.Folder(),
		"documents": out,
	})
}

// Get handles GET /documents/{name}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Load(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type putDocumentRequest struct {
	Content string `json:"content"`
	Version *int64 `json:"version,omitempty"`
}

// Put handles PUT /documents/{name}
func (h *DocumentHandler) Put(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req putDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var err error
	if req.Version != nil {
		err = h.store.WriteIfVersion(name, req.Content, *req.Version)
	} else {
		err = h.store.Write(name, req.Content)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	doc, err := h.store.Load(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Toggle handles POST /documents/{name}/tasks/{index}/toggle. An optional
// version query parameter rejects toggles picked from a stale document.
func (h *DocumentHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task index")
		return
	}

	name := chi.URLParam(r, "name")
	toggle := func(l *tasks.List) error { return l.Toggle(index) }

	var doc *models.Document
	if v := r.URL.Query().Get("version"); v != "" {
		version, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		doc, err = h.store.UpdateIfVersion(name, version, toggle)
	} else {
		doc, err = h.store.Update(name, toggle)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Reset handles POST /documents/{name}/reset
func (h *DocumentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Update(chi.URLParam(r, "name"), func(l *tasks.List) error {
		l.ResetAll()
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
