package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
)

// MCPCapability executes agent tools by calling same-named tools on a
// remote MCP server.
type MCPCapability struct {
	client  *client.Client
	timeout time.Duration
}

// DialMCP connects to a streamable-HTTP MCP server and performs the
// initialize handshake.
func DialMCP(ctx context.Context, endpoint string, timeout time.Duration) (*MCPCapability, error) {
	c, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("mcp client %s: %w", endpoint, err)
	}
	m, err := NewMCPCapability(ctx, c, timeout)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: %w", endpoint, err)
	}
	log.Info().Str("endpoint", endpoint).Msg("MCP tool server connected")
	return m, nil
}

// NewMCPCapability starts and initializes an existing client.
func NewMCPCapability(ctx context.Context, c *client.Client, timeout time.Duration) (*MCPCapability, error) {
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "contextd", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, init); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return &MCPCapability{client: c, timeout: timeout}, nil
}

// Execute implements contracts.ToolCapability.
func (m *MCPCapability) Execute(ctx context.Context, tool models.Tool, params map[string]interface{}) (interface{}, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool.Name
	req.Params.Arguments = params

	res, err := m.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", tool.Name, err)
	}
	if res.IsError {
		return nil, NewToolError(tool.Name, resultText(res))
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return decodeContent(res.Content), nil
}

// Close closes the underlying client.
func (m *MCPCapability) Close() error {
	return m.client.Close()
}

// decodeContent turns MCP text content into a result value: JSON text is
// decoded, other text is kept as a string, several parts become a list.
func decodeContent(content []mcp.Content) interface{} {
	var parts []interface{}
	for _, c := range content {
		tc, ok := c.(mcp.TextContent)
		if !ok {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(tc.Text), &v); err == nil {
			parts = append(parts, v)
		} else {
			parts = append(parts, tc.Text)
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return parts
	}
}

func resultText(res *mcp.CallToolResult) string {
	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(texts, "\n")
}
