package mcpserver

import (
	"context"
	"fmt"

	"github.com/agentoven/agentoven/context-plane/pkg/contracts"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── CreateContextTool ──────────────────────────────────────────────────────

// CreateContextTool handles the context_create MCP tool.
type CreateContextTool struct {
	store contracts.Store
}

func NewCreateContextTool(s contracts.Store) *CreateContextTool {
	return &CreateContextTool{store: s}
}

func (t *CreateContextTool) Definition() mcp.Tool {
	return mcp.NewTool("context_create",
		mcp.WithDescription("Create a new model context at version 1."),
		mcp.WithString("model_id",
			mcp.Required(),
			mcp.Description("Identifier of the model this context belongs to"),
		),
		mcp.WithString("initial_state",
			mcp.Description("Initial state as a JSON object (default: {})"),
		),
	)
}

func (t *CreateContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var state models.State
	if err := objectArg(req, "initial_state", &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := t.store.Create(ctx, req.GetString("model_id", ""), state)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create context: %v", err)), nil
	}
	return jsonResult(c), nil
}

// ─── GetContextTool ─────────────────────────────────────────────────────────

// GetContextTool handles the context_get MCP tool.
type GetContextTool struct {
	store contracts.Store
}

func NewGetContextTool(s contracts.Store) *GetContextTool {
	return &GetContextTool{store: s}
}

func (t *GetContextTool) Definition() mcp.Tool {
	return mcp.NewTool("context_get",
		mcp.WithDescription("Get a model context by id, including its current version."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Context id")),
	)
}

func (t *GetContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	c, err := t.store.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c), nil
}

// ─── ListContextsTool ───────────────────────────────────────────────────────

// ListContextsTool handles the context_list MCP tool.
type ListContextsTool struct {
	store contracts.Store
}

func NewListContextsTool(s contracts.Store) *ListContextsTool {
	return &ListContextsTool{store: s}
}

func (t *ListContextsTool) Definition() mcp.Tool {
	return mcp.NewTool("context_list",
		mcp.WithDescription("List all model contexts, oldest first."),
	)
}

func (t *ListContextsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := t.store.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list contexts: %v", err)), nil
	}
	return jsonResult(list), nil
}

// ─── UpdateContextTool ──────────────────────────────────────────────────────

// UpdateContextTool handles the context_update MCP tool.
type UpdateContextTool struct {
	store contracts.Store
}

func NewUpdateContextTool(s contracts.Store) *UpdateContextTool {
	return &UpdateContextTool{store: s}
}

func (t *UpdateContextTool) Definition() mcp.Tool {
	return mcp.NewTool("context_update",
		mcp.WithDescription(
			"Apply a shallow state patch to a context. Succeeds only if 'version' equals the "+
				"context's current version; on a mismatch, re-read with context_get and retry.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Context id")),
		mcp.WithNumber("version",
			mcp.Required(),
			mcp.Description("Version last observed by the caller"),
		),
		mcp.WithString("state",
			mcp.Description("Top-level keys to overwrite, as a JSON object"),
		),
		mcp.WithString("model_id",
			mcp.Description("New model id (unchanged when empty)"),
		),
	)
}

func (t *UpdateContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	version := intArg(req, "version", 0)
	if version <= 0 {
		return mcp.NewToolResultError("'version' must be a positive integer"), nil
	}
	var patch models.State
	if err := objectArg(req, "state", &patch); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	c, err := t.store.Update(ctx, id, models.ContextUpdate{
		ModelID: req.GetString("model_id", ""),
		State:   patch,
		Version: version,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c), nil
}

// ─── DeleteContextTool ──────────────────────────────────────────────────────

// DeleteContextTool handles the context_delete MCP tool.
type DeleteContextTool struct {
	store contracts.Store
}

func NewDeleteContextTool(s contracts.Store) *DeleteContextTool {
	return &DeleteContextTool{store: s}
}

func (t *DeleteContextTool) Definition() mcp.Tool {
	return mcp.NewTool("context_delete",
		mcp.WithDescription("Delete a context by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Context id")),
	)
}

func (t *DeleteContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	removed, err := t.store.Delete(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete context: %v", err)), nil
	}
	if !removed {
		return mcp.NewToolResultError("context not found: " + id), nil
	}
	return mcp.NewToolResultText("Deleted context " + id), nil
}
