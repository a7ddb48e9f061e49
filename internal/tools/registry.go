package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/internal/permission"
	"github.com/massgen/massgen/pkg/models"
)

// Registry holds tool handlers and dispatches calls to them.
// Argument schemas are compiled at registration and enforced before
// execution; malformed arguments downgrade to an error output rather
// than failing the runner.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema
	logger   *slog.Logger
	onDenial func(agentID, tool string)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*jsonschema.Schema),
		logger:   logger,
	}
}

// SetDenialHook installs a callback invoked on every permission
// denial, used for metrics.
func (r *Registry) SetDenialHook(fn func(agentID, tool string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDenial = fn
}

// Register adds a handler. Reserved coordination names and duplicate
// registrations are rejected.
func (r *Registry) Register(h Handler) error {
	name := h.Name()
	if Reserved(name) {
		return fmt.Errorf("tool name %q is reserved for coordination", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	if raw := h.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		resource := name + ".schema.json"
		if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("add schema for %q: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("compile schema for %q: %w", name, err)
		}
		r.schemas[name] = schema
	}
	r.handlers[name] = h
	return nil
}

// MustRegister panics on registration failure. For wiring built-in
// handlers whose schemas are compile-time constants.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Specs returns backend tool specs for all registered handlers.
func (r *Registry) Specs() []backend.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]backend.ToolSpec, 0, len(r.handlers))
	for _, h := range r.handlers {
		specs = append(specs, backend.ToolSpec{
			Name:        h.Name(),
			Description: h.Description(),
			Parameters:  h.Schema(),
		})
	}
	return specs
}

// Dispatch executes one tool call for an agent. The pipeline is:
// decode arguments, rebase workspace-relative paths, validate against
// the registered schema, check permissions, execute. Every failure
// short of a cancelled context becomes an error output the model can
// react to.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall, agent AgentContext) Output {
	r.mu.RLock()
	handler, ok := r.handlers[call.Name]
	schema := r.schemas[call.Name]
	onDenial := r.onDenial
	r.mu.RUnlock()
	if !ok {
		return Errorf("unknown tool %q", call.Name)
	}

	args, err := call.ArgumentsMap()
	if err != nil {
		r.logger.Warn("malformed tool arguments",
			"tool", call.Name, "agent_id", agent.AgentID, "error", err)
		return Errorf("malformed arguments: %v", err)
	}
	args = permission.RebaseRelative(args, agent.WorkspaceDir)

	if schema != nil {
		if err := schema.Validate(map[string]any(args)); err != nil {
			return Errorf("invalid arguments for %q: %v", call.Name, err)
		}
	}

	if agent.Permissions != nil {
		decision := agent.Permissions.Check(call.Name, args)
		if !decision.Allowed {
			r.logger.Info("permission denied",
				"tool", call.Name, "agent_id", agent.AgentID, "reason", decision.Reason)
			if onDenial != nil {
				onDenial(agent.AgentID, call.Name)
			}
			return Output{Content: "permission denied: " + decision.Reason, IsError: true}
		}
	}

	if err := ctx.Err(); err != nil {
		return Errorf("cancelled: %v", err)
	}
	return handler.Execute(ctx, args, agent)
}
