package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrNoAgent is returned when a tool is executed on a context without an agent.
var ErrNoAgent = errors.New("no agent found in context")

// ErrCreationFailed is returned when the store does not produce the agent's
// context. A store error, when there is one, is wrapped alongside it.
var ErrCreationFailed = errors.New("failed to create context")

// ErrToolNotFound is returned when the agent has no tool with the given name.
type ErrToolNotFound struct {
	Tool string
}

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool %s not found in agent configuration", e.Tool)
}

// ErrInvalidRole is returned by AddMessage for roles other than user/assistant.
type ErrInvalidRole struct {
	Role string
}

func (e *ErrInvalidRole) Error() string {
	return fmt.Sprintf("invalid message role %q: must be user or assistant", e.Role)
}

// ErrInvalidAgent is returned by CreateAgent for a malformed agent definition.
type ErrInvalidAgent struct {
	Reason string
}

func (e *ErrInvalidAgent) Error() string {
	return "invalid agent: " + e.Reason
}

// ── Capability failures ─────────────────────────────────────

// FailureReason classifies a CapabilityError.
type FailureReason string

const (
	ReasonNotFound         FailureReason = "not_found"
	ReasonAlreadyExists    FailureReason = "already_exists"
	ReasonPermissionDenied FailureReason = "permission_denied"
	ReasonOther            FailureReason = "other"
)

// CapabilityError wraps an error raised by the tool capability. Error
// returns the capability's message unchanged.
type CapabilityError struct {
	Tool string
	Err  error
}

func (e *CapabilityError) Error() string { return e.Err.Error() }

func (e *CapabilityError) Unwrap() error { return e.Err }

// Reason reports the failure class signalled by the wrapped error.
func (e *CapabilityError) Reason() FailureReason {
	switch {
	case errors.Is(e.Err, fs.ErrNotExist):
		return ReasonNotFound
	case errors.Is(e.Err, fs.ErrExist):
		return ReasonAlreadyExists
	case errors.Is(e.Err, fs.ErrPermission):
		return ReasonPermissionDenied
	default:
		return ReasonOther
	}
}
