// Package backend abstracts streaming LLM providers behind a single
// capability: execute a conversation with a tool set and stream the
// response as a chunk sequence. Adapters live in the providers
// subpackage; callers obtain them through a Registry so agent configs
// can name providers by string.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/massgen/massgen/internal/backoff"
	"github.com/massgen/massgen/pkg/models"
)

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string

	// Parameters is the JSON Schema for the tool's argument object.
	Parameters json.RawMessage
}

// Request is a single streaming completion request. Messages carry the
// full conversation; System is passed separately because providers
// disagree on where system prompts live.
type Request struct {
	System      string
	Messages    []models.Message
	Tools       []ToolSpec
	Model       string
	MaxTokens   int
	Temperature float64
}

// Backend executes requests against one provider.
//
// ExecuteStreaming returns immediately with a channel of chunks. The
// sequence ends with exactly one done or error chunk and the channel
// is closed after the terminator. Chunks carry no AgentID; the runner
// tags them. A non-nil error return means the request could not be
// started at all.
type Backend interface {
	Name() string
	ExecuteStreaming(ctx context.Context, req Request) (<-chan *models.StreamChunk, error)
}

// Config carries provider-independent construction options.
type Config struct {
	// Provider selects the registry factory ("anthropic", "openai").
	Provider string

	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64

	// Retry governs reconnect attempts before the first chunk is
	// emitted. Zero value means backoff.DefaultPolicy.
	Retry backoff.Policy

	Logger *slog.Logger
}

// WithDefaults fills unset fields with usable values.
func (c Config) WithDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = backoff.DefaultPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Factory builds a backend from a config.
type Factory func(cfg Config) (Backend, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under the given provider name,
// replacing any previous registration.
func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Open builds a backend for cfg.Provider.
func (r *Registry) Open(cfg Config) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend provider %q (have %v)", cfg.Provider, r.Providers())
	}
	return f(cfg.WithDefaults())
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
