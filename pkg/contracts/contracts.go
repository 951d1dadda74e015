// Package contracts defines the service interfaces of the context plane.
//
// The API handlers and the MCP server depend on these interfaces rather than
// on concrete types, so an alternative orchestrator or tool runtime is a
// single line change in the wiring code (main.go).
package contracts

import (
	"context"

	"github.com/agentoven/agentoven/context-plane/internal/store"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
)

// Store is a type alias for the internal Store interface.
// Exposed in pkg/ so embedders can reference it without importing
// internal/ directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ErrVersionConflict is a type alias for the internal optimistic-concurrency error.
type ErrVersionConflict = store.ErrVersionConflict

// ── Tool Capability ─────────────────────────────────────────

// ToolCapability performs a tool's effect. The orchestrator treats the
// result as opaque and only records it.
// Implementations: internal/tools.Registry (in-process),
// internal/tools.MCPCapability (remote MCP server).
//
// Failures that are "not found", "already exists" or "permission denied"
// should wrap fs.ErrNotExist, fs.ErrExist or fs.ErrPermission so callers can
// classify them.
type ToolCapability interface {
	Execute(ctx context.Context, tool models.Tool, params map[string]interface{}) (interface{}, error)
}

// ToolFunc adapts a plain function to ToolCapability.
type ToolFunc func(ctx context.Context, tool models.Tool, params map[string]interface{}) (interface{}, error)

func (f ToolFunc) Execute(ctx context.Context, tool models.Tool, params map[string]interface{}) (interface{}, error) {
	return f(ctx, tool, params)
}

// ── Orchestrator Service ────────────────────────────────────

// OrchestratorService drives agent conversations and tool calls over the
// context store.
// OSS implementation: internal/orchestrator.Orchestrator
type OrchestratorService interface {
	CreateAgent(ctx context.Context, modelID string, agent models.Agent, systemPrompt string) (*models.Agent, *models.Context, error)
	AddMessage(ctx context.Context, contextID string, role models.MessageRole, content string) (*models.Message, error)
	ExecuteTool(ctx context.Context, contextID, toolName string, params map[string]interface{}) (*models.ToolExecution, error)
	GetConversationHistory(ctx context.Context, contextID string) ([]models.Message, error)
	GetToolExecutions(ctx context.Context, contextID string) ([]models.ToolExecution, error)
}
