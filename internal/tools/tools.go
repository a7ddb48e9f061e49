// Package tools defines the tool handler contract and the registry
// that dispatches model tool calls. The coordination tools new_answer
// and vote are reserved names handled by the orchestrator and are
// never registered here.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/massgen/massgen/internal/permission"
)

// Reserved coordination tool names. The registry refuses to register
// handlers under these names.
const (
	NameNewAnswer = "new_answer"
	NameVote      = "vote"
	NameRestart   = "restart"
)

// Reserved reports whether name is a coordination tool handled by the
// orchestrator rather than a dispatchable handler.
func Reserved(name string) bool {
	return name == NameNewAnswer || name == NameVote || name == NameRestart
}

// Output is the result of one tool execution. Errors a model can
// recover from travel as IsError outputs, not Go errors.
type Output struct {
	Content string
	IsError bool
}

// Errorf builds an error output.
func Errorf(format string, args ...any) Output {
	return Output{Content: fmt.Sprintf(format, args...), IsError: true}
}

// AgentContext identifies the calling agent for handlers and the
// permission layer.
type AgentContext struct {
	AgentID      string
	WorkspaceDir string

	// Permissions guards filesystem-affecting calls. Nil means no
	// filesystem policing, used by pure computational tools in tests.
	Permissions *permission.Manager
}

// Handler executes one named tool.
type Handler interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the
	// tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with decoded arguments.
	Execute(ctx context.Context, args map[string]any, agent AgentContext) Output
}

// FuncHandler adapts a function into a Handler.
type FuncHandler struct {
	ToolName string
	Desc     string
	Params   json.RawMessage
	Fn       func(ctx context.Context, args map[string]any, agent AgentContext) Output
}

func (h *FuncHandler) Name() string            { return h.ToolName }
func (h *FuncHandler) Description() string     { return h.Desc }
func (h *FuncHandler) Schema() json.RawMessage { return h.Params }

func (h *FuncHandler) Execute(ctx context.Context, args map[string]any, agent AgentContext) Output {
	return h.Fn(ctx, args, agent)
}
