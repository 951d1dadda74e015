// Package orchestrator drives agent conversations and tool invocations on
// top of the context store.
//
// Every mutation is a read-modify-write: read the context, compute the new
// top-level state key, then submit it with the version observed at read
// time. The store decides; the orchestrator holds no state of its own.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/metrics"
	"github.com/agentoven/agentoven/context-plane/internal/store"
	"github.com/agentoven/agentoven/context-plane/pkg/contracts"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("contextd/orchestrator")

// Orchestrator implements contracts.OrchestratorService.
type Orchestrator struct {
	store   store.Store
	tools   contracts.ToolCapability
	metrics *metrics.Metrics
	retries int
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConflictRetries retries a read-modify-write up to n more times after a
// version conflict, re-reading the context each time. The default of 0
// returns the first conflict to the caller. Tools are never re-executed.
func WithConflictRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.retries = n
		}
	}
}

// WithMetrics records tool execution counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source for message and execution timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over s that runs tools through capability.
func New(s store.Store, capability contracts.ToolCapability, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: s,
		tools: capability,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var _ contracts.OrchestratorService = (*Orchestrator)(nil)

// CreateAgent stores a new context holding agent, an optional system prompt
// message, an empty tool log and status idle. The agent gets a fresh id.
func (o *Orchestrator) CreateAgent(ctx context.Context, modelID string, agent models.Agent, systemPrompt string) (_ *models.Agent, _ *models.Context, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.CreateAgent", trace.WithAttributes(
		attribute.String("model.id", modelID),
	))
	defer func() { endSpan(span, err) }()

	if err := validateAgent(&agent); err != nil {
		return nil, nil, err
	}
	agent.ID = "agent-" + uuid.New().String()
	if agent.Tools == nil {
		agent.Tools = []models.Tool{}
	}

	history := []models.Message{}
	if systemPrompt != "" {
		history = append(history, models.Message{
			Role:      models.RoleSystem,
			Content:   systemPrompt,
			Timestamp: o.now().UTC(),
		})
	}

	state, err := models.NewState(map[string]interface{}{
		models.StateAgent:               agent,
		models.StateConversationHistory: history,
		models.StateToolExecutions:      []models.ToolExecution{},
		models.StateStatus:              models.StatusIdle,
	})
	if err != nil {
		return nil, nil, err
	}

	c, err := o.store.Create(ctx, modelID, state)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	if c == nil {
		log.Error().Str("agent_id", agent.ID).Msg("Store returned no context for new agent")
		return nil, nil, ErrCreationFailed
	}

	span.SetAttributes(attribute.String("context.id", c.ID), attribute.String("agent.id", agent.ID))
	log.Info().
		Str("context_id", c.ID).
		Str("agent_id", agent.ID).
		Str("agent", agent.Name).
		Int("tools", len(agent.Tools)).
		Msg("Agent created")
	return &agent, c, nil
}

// AddMessage appends a user or assistant message to the conversation.
func (o *Orchestrator) AddMessage(ctx context.Context, contextID string, role models.MessageRole, content string) (_ *models.Message, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.AddMessage", trace.WithAttributes(
		attribute.String("context.id", contextID),
		attribute.String("message.role", string(role)),
	))
	defer func() { endSpan(span, err) }()

	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, &ErrInvalidRole{Role: string(role)}
	}
	msg := models.Message{Role: role, Content: content, Timestamp: o.now().UTC()}

	_, err = o.appendEntry(ctx, contextID, nil, func(c *models.Context) (models.State, error) {
		history, err := c.State.ConversationHistory()
		if err != nil {
			return nil, err
		}
		return patchOf(models.StateConversationHistory, append(history, msg))
	}, entryEvent(models.EventMessageAdded, models.StateConversationHistory, []models.Message{msg}))
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ExecuteTool runs one of the agent's tools through the capability and
// records the result in the tool log.
func (o *Orchestrator) ExecuteTool(ctx context.Context, contextID, toolName string, params map[string]interface{}) (_ *models.ToolExecution, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.ExecuteTool", trace.WithAttributes(
		attribute.String("context.id", contextID),
		attribute.String("tool.name", toolName),
	))
	defer func() { endSpan(span, err) }()

	c, err := o.store.Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	agent, err := c.State.Agent()
	if err != nil {
		return nil, fmt.Errorf("context %s: %w", contextID, err)
	}
	if agent == nil {
		return nil, ErrNoAgent
	}
	tool, ok := agent.FindTool(toolName)
	if !ok {
		return nil, &ErrToolNotFound{Tool: toolName}
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	start := time.Now()
	result, err := o.tools.Execute(ctx, *tool, params)
	o.metrics.ToolExecuted(toolName, time.Since(start), err)
	if err != nil {
		log.Warn().Err(err).Str("context_id", contextID).Str("tool", toolName).Msg("Tool execution failed")
		return nil, &CapabilityError{Tool: toolName, Err: err}
	}

	exec := models.ToolExecution{
		Tool:       toolName,
		Parameters: params,
		Result:     result,
		Timestamp:  o.now().UTC(),
	}
	updated, err := o.appendEntry(ctx, contextID, c, func(c *models.Context) (models.State, error) {
		execs, err := c.State.ToolExecutions()
		if err != nil {
			return nil, err
		}
		return patchOf(models.StateToolExecutions, append(execs, exec))
	}, entryEvent(models.EventToolExecuted, models.StateToolExecutions, []models.ToolExecution{exec}))
	if err != nil {
		return nil, err
	}

	log.Debug().Str("context_id", contextID).Str("tool", toolName).Int64("version", updated.Version).Msg("Tool executed")
	return &exec, nil
}

// GetConversationHistory returns the recorded messages, empty when none.
func (o *Orchestrator) GetConversationHistory(ctx context.Context, contextID string) ([]models.Message, error) {
	c, err := o.store.Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	return c.State.ConversationHistory()
}

// GetToolExecutions returns the recorded tool executions, empty when none.
func (o *Orchestrator) GetToolExecutions(ctx context.Context, contextID string) ([]models.ToolExecution, error) {
	c, err := o.store.Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	return c.State.ToolExecutions()
}

// appendEntry performs the read-modify-write. The first attempt uses first
// when given (the context already read by the caller); retries always
// re-read. event is published by the store right after "updated".
func (o *Orchestrator) appendEntry(ctx context.Context, contextID string, first *models.Context, build func(*models.Context) (models.State, error), event store.UpdateOption) (*models.Context, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond

	attempt := 0
	return backoff.RetryWithData(func() (*models.Context, error) {
		attempt++
		c := first
		first = nil
		if c == nil {
			var err error
			if c, err = o.store.Get(ctx, contextID); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		patch, err := build(c)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		updated, err := o.store.Update(ctx, contextID, models.ContextUpdate{State: patch, Version: c.Version}, event)
		if err != nil {
			if store.IsVersionConflict(err) {
				log.Debug().
					Str("context_id", contextID).
					Int64("version", c.Version).
					Int("attempt", attempt).
					Msg("Version conflict on append")
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return updated, nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.retries)), ctx))
}

// entryEvent builds the supplementary event for an appended entry. Data
// carries only the new entry and the resulting version.
func entryEvent(eventType models.EventType, key string, entry interface{}) store.UpdateOption {
	return store.WithFollowUpEvent(func(updated *models.Context) *models.ContextEvent {
		partial := &models.Context{ID: updated.ID, Version: updated.Version, State: models.State{}}
		if err := partial.State.Set(key, entry); err != nil {
			log.Warn().Err(err).Str("context_id", updated.ID).Msg("Failed to encode event entry")
			return nil
		}
		ev := models.NewEvent(eventType, updated.ID, partial)
		return &ev
	})
}

func validateAgent(a *models.Agent) error {
	seen := make(map[string]bool, len(a.Tools))
	for _, t := range a.Tools {
		if t.Name == "" {
			return &ErrInvalidAgent{Reason: "tool name must not be empty"}
		}
		if seen[t.Name] {
			return &ErrInvalidAgent{Reason: fmt.Sprintf("duplicate tool name %q", t.Name)}
		}
		seen[t.Name] = true
	}
	return nil
}

func patchOf(key string, v interface{}) (models.State, error) {
	patch := models.State{}
	if err := patch.Set(key, v); err != nil {
		return nil, err
	}
	return patch, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
