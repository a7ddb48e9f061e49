package providers

import "github.com/massgen/massgen/internal/backend"

// DefaultRegistry returns a registry with all built-in providers.
func DefaultRegistry() *backend.Registry {
	r := backend.NewRegistry()
	r.Register("anthropic", NewAnthropic)
	r.Register("openai", NewOpenAI)
	return r
}
