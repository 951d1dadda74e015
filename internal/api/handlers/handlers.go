// Package handlers implements the HTTP handlers for the context plane.
// All handlers depend on the Store and OrchestratorService interfaces so
// any backend or orchestrator implementation can be wired in main.go.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/agentoven/agentoven/context-plane/internal/orchestrator"
	"github.com/agentoven/agentoven/context-plane/internal/store"
	"github.com/agentoven/agentoven/context-plane/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        store.Store
	Orchestrator contracts.OrchestratorService
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, o contracts.OrchestratorService) *Handlers {
	return &Handlers{Store: s, Orchestrator: o}
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// respondErr maps domain errors to HTTP statuses:
//
//	not found                 → 404
//	version conflict          → 409
//	orchestration precondition → 400
//	capability failure        → 404 / 409 / 403 / 422 by reason
//	anything else             → 500
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound     *store.ErrNotFound
		conflict     *store.ErrVersionConflict
		toolNotFound *orchestrator.ErrToolNotFound
		invalidRole  *orchestrator.ErrInvalidRole
		invalidAgent *orchestrator.ErrInvalidAgent
		capErr       *orchestrator.CapabilityError
	)
	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNoAgent),
		errors.As(err, &toolNotFound),
		errors.As(err, &invalidRole),
		errors.As(err, &invalidAgent):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &capErr):
		respondError(w, capabilityStatus(capErr.Reason()), err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func capabilityStatus(reason orchestrator.FailureReason) int {
	switch reason {
	case orchestrator.ReasonNotFound:
		return http.StatusNotFound
	case orchestrator.ReasonAlreadyExists:
		return http.StatusConflict
	case orchestrator.ReasonPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}
