package handlers

import (
	"net/http"

	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/go-chi/chi/v5"
)

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type createAgentRequest struct {
	ModelID      string       `json:"modelId"`
	Agent        models.Agent `json:"agent"`
	SystemPrompt string       `json:"systemPrompt,omitempty"`
}

type createAgentResponse struct {
	Agent     *models.Agent `json:"agent"`
	ContextID string        `json:"contextId"`
}

// CreateAgent creates an agent-backed context.
// POST /api/v1/llm/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	agent, c, err := h.Orchestrator.CreateAgent(r.Context(), req.ModelID, req.Agent, req.SystemPrompt)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, createAgentResponse{Agent: agent, ContextID: c.ID})
}

type addMessageRequest struct {
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content"`
}

// AddMessage appends a conversation message.
// POST /api/v1/llm/agents/{contextId}/messages
func (h *Handlers) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	msg, err := h.Orchestrator.AddMessage(r.Context(), chi.URLParam(r, "contextId"), req.Role, req.Content)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// ExecuteTool runs one of the agent's tools. The body is the parameter map.
// POST /api/v1/llm/agents/{contextId}/tools/{tool}
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	params := map[string]interface{}{}
	if err := decodeBody(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	exec, err := h.Orchestrator.ExecuteTool(r.Context(), chi.URLParam(r, "contextId"), chi.URLParam(r, "tool"), params)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, exec)
}

// GetConversation returns the conversation history.
// GET /api/v1/llm/agents/{contextId}/conversation
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Orchestrator.GetConversationHistory(r.Context(), chi.URLParam(r, "contextId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

// GetToolExecutions returns the tool execution log.
// GET /api/v1/llm/agents/{contextId}/tools
func (h *Handlers) GetToolExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := h.Orchestrator.GetToolExecutions(r.Context(), chi.URLParam(r, "contextId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, execs)
}
