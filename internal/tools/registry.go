// Package tools provides ToolCapability implementations: an in-process
// registry of named handlers and a client for remote MCP tool servers.
package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/agentoven/agentoven/context-plane/pkg/contracts"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrNotImplemented is returned when no handler is registered for a tool.
var ErrNotImplemented = errors.New("tool not implemented")

// Registry dispatches tool calls by name. Names without a handler go to the
// fallback capability when one is set.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]contracts.ToolCapability
	fallback contracts.ToolCapability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]contracts.ToolCapability)}
}

// Register binds name to c, replacing any previous handler.
func (r *Registry) Register(name string, c contracts.ToolCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = c
	log.Debug().Str("tool", name).Msg("Tool handler registered")
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(name string, fn contracts.ToolFunc) {
	r.Register(name, fn)
}

// SetFallback routes unregistered names to c.
func (r *Registry) SetFallback(c contracts.ToolCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = c
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute implements contracts.ToolCapability.
func (r *Registry) Execute(ctx context.Context, tool models.Tool, params map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	h, ok := r.handlers[tool.Name]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		if fallback == nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, ErrNotImplemented)
		}
		h = fallback
	}
	return h.Execute(ctx, tool, params)
}

// ── Tool errors ─────────────────────────────────────────────

// ToolError is a failure reported by the tool itself (as opposed to a
// transport failure). Error returns the tool's message unchanged; Unwrap
// exposes fs.ErrNotExist, fs.ErrExist or fs.ErrPermission when the message
// signals one of those reasons.
type ToolError struct {
	Tool    string
	Message string
	reason  error
}

// NewToolError classifies message and wraps it.
func NewToolError(tool, message string) *ToolError {
	return &ToolError{Tool: tool, Message: message, reason: classify(message)}
}

func (e *ToolError) Error() string { return e.Message }

func (e *ToolError) Unwrap() error { return e.reason }

func classify(message string) error {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "enoent"), strings.Contains(m, "no such file"), strings.Contains(m, "not found"):
		return fs.ErrNotExist
	case strings.Contains(m, "eexist"), strings.Contains(m, "already exists"):
		return fs.ErrExist
	case strings.Contains(m, "eacces"), strings.Contains(m, "eperm"), strings.Contains(m, "permission denied"):
		return fs.ErrPermission
	default:
		return nil
	}
}
