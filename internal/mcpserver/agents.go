package mcpserver

import (
	"context"

	"github.com/agentoven/agentoven/context-plane/pkg/contracts"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── CreateAgentTool ────────────────────────────────────────────────────────

// CreateAgentTool handles the agent_create MCP tool.
type CreateAgentTool struct {
	orch contracts.OrchestratorService
}

func NewCreateAgentTool(o contracts.OrchestratorService) *CreateAgentTool {
	return &CreateAgentTool{orch: o}
}

func (t *CreateAgentTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_create",
		mcp.WithDescription(
			"Create an agent-backed context. The agent definition carries name, description, "+
				"model and a list of tools ({name, description, parameters}).",
		),
		mcp.WithString("model_id", mcp.Required(), mcp.Description("Model identifier")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent definition as a JSON object")),
		mcp.WithString("system_prompt", mcp.Description("Optional system prompt, recorded as the first message")),
	)
}

type agentCreated struct {
	Agent     *models.Agent `json:"agent"`
	ContextID string        `json:"contextId"`
}

func (t *CreateAgentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var agent models.Agent
	if err := objectArg(req, "agent", &agent); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, c, err := t.orch.CreateAgent(ctx, req.GetString("model_id", ""), agent, req.GetString("system_prompt", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(agentCreated{Agent: a, ContextID: c.ID}), nil
}

// ─── AddMessageTool ─────────────────────────────────────────────────────────

// AddMessageTool handles the agent_add_message MCP tool.
type AddMessageTool struct {
	orch contracts.OrchestratorService
}

func NewAddMessageTool(o contracts.OrchestratorService) *AddMessageTool {
	return &AddMessageTool{orch: o}
}

func (t *AddMessageTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_add_message",
		mcp.WithDescription("Append a user or assistant message to an agent's conversation."),
		mcp.WithString("context_id", mcp.Required(), mcp.Description("Agent context id")),
		mcp.WithString("role", mcp.Required(), mcp.Description("user or assistant")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	)
}

func (t *AddMessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("context_id", "")
	if id == "" {
		return mcp.NewToolResultError("'context_id' is required"), nil
	}
	msg, err := t.orch.AddMessage(ctx, id, models.MessageRole(req.GetString("role", "")), req.GetString("content", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(msg), nil
}

// ─── ExecuteToolTool ────────────────────────────────────────────────────────

// ExecuteToolTool handles the agent_execute_tool MCP tool.
type ExecuteToolTool struct {
	orch contracts.OrchestratorService
}

func NewExecuteToolTool(o contracts.OrchestratorService) *ExecuteToolTool {
	return &ExecuteToolTool{orch: o}
}

func (t *ExecuteToolTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_execute_tool",
		mcp.WithDescription("Run one of the agent's declared tools and record the result in its tool log."),
		mcp.WithString("context_id", mcp.Required(), mcp.Description("Agent context id")),
		mcp.WithString("tool", mcp.Required(), mcp.Description("Tool name, as declared on the agent")),
		mcp.WithString("params", mcp.Description("Tool parameters as a JSON object (default: {})")),
	)
}

func (t *ExecuteToolTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("context_id", "")
	tool := req.GetString("tool", "")
	if id == "" || tool == "" {
		return mcp.NewToolResultError("'context_id' and 'tool' are required"), nil
	}
	params := map[string]interface{}{}
	if err := objectArg(req, "params", &params); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exec, err := t.orch.ExecuteTool(ctx, id, tool, params)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(exec), nil
}

// ─── ConversationTool ───────────────────────────────────────────────────────

// ConversationTool handles the agent_conversation MCP tool.
type ConversationTool struct {
	orch contracts.OrchestratorService
}

func NewConversationTool(o contracts.OrchestratorService) *ConversationTool {
	return &ConversationTool{orch: o}
}

func (t *ConversationTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_conversation",
		mcp.WithDescription("Return an agent's conversation history, oldest first."),
		mcp.WithString("context_id", mcp.Required(), mcp.Description("Agent context id")),
	)
}

func (t *ConversationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msgs, err := t.orch.GetConversationHistory(ctx, req.GetString("context_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(msgs), nil
}

// ─── ToolExecutionsTool ─────────────────────────────────────────────────────

// ToolExecutionsTool handles the agent_tool_executions MCP tool.
type ToolExecutionsTool struct {
	orch contracts.OrchestratorService
}

func NewToolExecutionsTool(o contracts.OrchestratorService) *ToolExecutionsTool {
	return &ToolExecutionsTool{orch: o}
}

func (t *ToolExecutionsTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_tool_executions",
		mcp.WithDescription("Return an agent's tool execution log, oldest first."),
		mcp.WithString("context_id", mcp.Required(), mcp.Description("Agent context id")),
	)
}

func (t *ToolExecutionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	execs, err := t.orch.GetToolExecutions(ctx, req.GetString("context_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(execs), nil
}
