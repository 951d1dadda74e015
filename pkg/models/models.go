// Package models defines the documents exchanged between the context store,
// the notifier, the orchestrator and the transports.
package models

import (
	"time"
)

// ── Context ──────────────────────────────────────────────────

// Context is one versioned model-context document.
//
// Version starts at 1 on creation and grows by exactly one on every
// successful update; it doubles as the optimistic-concurrency token.
type Context struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId,omitempty"`
	State     State     `json:"state,omitzero"`
	Version   int64     `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.State = c.State.Clone()
	return &cp
}

// ContextUpdate is a conditional update request. State is a shallow patch
// and Version is the version the caller last observed.
type ContextUpdate struct {
	ModelID string `json:"modelId,omitempty"`
	State   State  `json:"state,omitempty"`
	Version int64  `json:"version"`
}

// ContextStatus is advisory run-state metadata. Nothing enforces transitions.
type ContextStatus string

const (
	StatusIdle    ContextStatus = "idle"
	StatusRunning ContextStatus = "running"
	StatusError   ContextStatus = "error"
)

// ── Agent ────────────────────────────────────────────────────

// Agent is the agent definition embedded in a context's state.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Model        string   `json:"model"` // e.g. "gpt-4", "claude-3"
	Tools        []Tool   `json:"tools"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
}

// FindTool returns the tool descriptor with the exact given name.
func (a *Agent) FindTool(name string) (*Tool, bool) {
	if a == nil {
		return nil, false
	}
	for i := range a.Tools {
		if a.Tools[i].Name == name {
			return &a.Tools[i], true
		}
	}
	return nil, false
}

// Tool describes a capability an agent may invoke.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is a JSON-Schema-like parameter shape.
type ToolParameters struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// ── Conversation ─────────────────────────────────────────────

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one entry of a conversation history.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// ToolExecution records one successful tool invocation.
type ToolExecution struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
	Result     interface{}            `json:"result"`
	Timestamp  time.Time              `json:"timestamp"`
}

// ── Events ───────────────────────────────────────────────────

// EventType describes what happened to a context.
type EventType string

const (
	EventCreated      EventType = "created"
	EventUpdated      EventType = "updated"
	EventDeleted      EventType = "deleted"
	EventToolExecuted EventType = "tool_executed"
	EventMessageAdded EventType = "message_added"
)

// ContextEvent is the ephemeral notification fanned out to subscribers.
// Data is a partial snapshot: the full context for created/updated, only
// the id for deleted, and the appended entry for message/tool events.
type ContextEvent struct {
	Type      EventType `json:"type"`
	ContextID string    `json:"contextId"`
	Data      *Context  `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a ContextEvent stamped with the current UTC time.
func NewEvent(eventType EventType, contextID string, data *Context) ContextEvent {
	return ContextEvent{
		Type:      eventType,
		ContextID: contextID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
