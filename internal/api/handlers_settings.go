package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mpataki/maestro/internal/settings"
)

type SettingsHandler struct {
	settings *settings.Settings
}

func NewSettingsHandler(s *settings.Settings) *SettingsHandler {
	return &SettingsHandler{settings: s}
}

// All handles GET /settings
func (h *SettingsHandler) All(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.All()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// Get handles GET /settings/{key}
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok, err := h.settings.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "setting not found: "+key)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}

type putSettingRequest struct {
	Value string `json:"value"`
}

// Put handles PUT /settings/{key}
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req putSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.settings.Set(key, req.Value); err != nil {
		writeErr(w, err)
		return
	}
	v, _, err := h.settings.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}
