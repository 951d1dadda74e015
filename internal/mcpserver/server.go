package mcpserver

import (
	"context"

	"github.com/agentoven/agentoven/context-plane/pkg/contracts"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const instructions = `contextd stores versioned model contexts and drives agents on top of them.

Every context has a version that grows by one on each update. context_update
only succeeds with the version you last read; on a version mismatch, call
context_get and retry with the fresh version.

Agents: agent_create returns a contextId. Use it with agent_add_message,
agent_execute_tool, agent_conversation and agent_tool_executions.`

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// New creates the MCP server with every context and agent tool registered.
func New(s contracts.Store, o contracts.OrchestratorService, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"contextd",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, t := range []tool{
		NewCreateContextTool(s),
		NewGetContextTool(s),
		NewListContextsTool(s),
		NewUpdateContextTool(s),
		NewDeleteContextTool(s),
		NewCreateAgentTool(o),
		NewAddMessageTool(o),
		NewExecuteToolTool(o),
		NewConversationTool(o),
		NewToolExecutionsTool(o),
	} {
		srv.AddTool(t.Definition(), t.Handle)
	}
	return srv
}

// ServeStdio serves srv over stdin/stdout until the input stream closes.
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}
