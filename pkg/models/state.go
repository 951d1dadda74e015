package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Recognized top-level state keys.
const (
	StateAgent               = "agent"
	StateConversationHistory = "conversationHistory"
	StateToolExecutions      = "toolExecutions"
	StateVariables           = "variables"
	StateStatus              = "status"
	StateError               = "error"
)

// State is the open-ended context document. Values are kept as raw JSON so
// keys this package does not model round-trip unchanged.
type State map[string]json.RawMessage

// NewState builds a State from plain Go values.
func NewState(fields map[string]interface{}) (State, error) {
	s := make(State, len(fields))
	for k, v := range fields {
		if err := s.Set(k, v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Clone returns a deep copy. A nil state stays nil.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	cp := make(State, len(s))
	for k, v := range s {
		cp[k] = append(json.RawMessage(nil), v...)
	}
	return cp
}

// Merge returns a new state where every top-level key of patch overwrites
// the same key of s. Keys absent from patch are preserved; nested values
// are replaced wholesale, never merged.
func (s State) Merge(patch State) State {
	out := s.Clone()
	if out == nil {
		out = make(State, len(patch))
	}
	for k, v := range patch {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Set stores v under key after encoding it to JSON.
func (s State) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state field %q: %w", key, err)
	}
	s[key] = raw
	return nil
}

// Decode unmarshals the value under key into dst. It reports false when the
// key is absent or JSON null.
func (s State) Decode(key string, dst interface{}) (bool, error) {
	raw, ok := s[key]
	if !ok || isNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode state field %q: %w", key, err)
	}
	return true, nil
}

// Agent returns the embedded agent, or nil when none is set.
func (s State) Agent() (*Agent, error) {
	var a Agent
	ok, err := s.Decode(StateAgent, &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

// ConversationHistory returns the recorded messages (never nil).
func (s State) ConversationHistory() ([]Message, error) {
	msgs := []Message{}
	if _, err := s.Decode(StateConversationHistory, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// ToolExecutions returns the recorded tool executions (never nil).
func (s State) ToolExecutions() ([]ToolExecution, error) {
	execs := []ToolExecution{}
	if _, err := s.Decode(StateToolExecutions, &execs); err != nil {
		return nil, err
	}
	if execs == nil {
		execs = []ToolExecution{}
	}
	return execs, nil
}

// Status returns the advisory status, or "" when unset or malformed.
func (s State) Status() ContextStatus {
	var st ContextStatus
	if _, err := s.Decode(StateStatus, &st); err != nil {
		return ""
	}
	return st
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
