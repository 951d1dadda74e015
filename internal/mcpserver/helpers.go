// Package mcpserver exposes the context store and the orchestrator as MCP
// tools, so an MCP client can create contexts, drive agents and inspect
// their history.
//
// Each tool is a struct with its dependencies injected via constructor:
// Definition() returns the mcp.Tool schema and Handle() serves a call.
// Failures are returned as tool errors, never as protocol errors.
package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult renders v as indented JSON text.
func jsonResult(v interface{}) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

// intArg extracts an integer argument (JSON numbers arrive as float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int64) int64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int64(v)
}

// objectArg decodes an argument that may be sent either as a JSON object or
// as a string holding JSON. A missing argument leaves dst untouched.
func objectArg(req mcp.CallToolRequest, key string, dst interface{}) error {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil
	}
	var raw []byte
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		raw = []byte(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("'%s': %w", key, err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("'%s' must be a JSON object: %w", key, err)
	}
	return nil
}
