package handlers

import (
	"net/http"

	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/go-chi/chi/v5"
)

// ══════════════════════════════════════════════════════════════
// ── Context Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListContexts returns every stored context.
// GET /api/v1/contexts
func (h *Handlers) ListContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := h.Store.List(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, contexts)
}

type createContextRequest struct {
	ModelID      string       `json:"modelId"`
	InitialState models.State `json:"initialState"`
}

// CreateContext creates a context at version 1.
// POST /api/v1/contexts
func (h *Handlers) CreateContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	c, err := h.Store.Create(r.Context(), req.ModelID, req.InitialState)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// GetContext returns one context.
// GET /api/v1/contexts/{id}
func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// UpdateContext applies a versioned shallow state patch.
// PUT /api/v1/contexts/{id}
func (h *Handlers) UpdateContext(w http.ResponseWriter, r *http.Request) {
	var req models.ContextUpdate
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	c, err := h.Store.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// DeleteContext removes a context; absent ids are 404.
// DELETE /api/v1/contexts/{id}
func (h *Handlers) DeleteContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.Store.Delete(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "context not found: "+id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
