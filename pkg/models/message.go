// Package models provides domain types for the MassGen coordination runtime.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation sent to a backend.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// ToolCall represents a model's request to execute a tool.
//
// Arguments may arrive either as a JSON object or as a JSON-encoded
// string containing an object; providers differ. ArgumentsMap handles
// both forms.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsMap decodes the call arguments into a map, unwrapping one
// level of string encoding when the provider double-encodes them.
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	if len(tc.Arguments) == 0 {
		return map[string]any{}, nil
	}
	raw := tc.Arguments
	// Unwrap `"{\"k\":\"v\"}"` style arguments.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		raw = json.RawMessage(asString)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments for %s: %w", tc.Name, err)
	}
	return args, nil
}

// StringArg returns the named string argument, or "" if absent or of
// a different type.
func (tc ToolCall) StringArg(name string) string {
	args, err := tc.ArgumentsMap()
	if err != nil {
		return ""
	}
	s, _ := args[name].(string)
	return s
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
