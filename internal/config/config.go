// Package config loads the YAML runtime configuration: agent
// definitions plus coordination, storage, and observability tunables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	Agents        []Agent       `yaml:"agents"`
	Coordination  Coordination  `yaml:"coordination"`
	Storage       Storage       `yaml:"storage"`
	Memory        Memory        `yaml:"memory"`
	Observability Observability `yaml:"observability"`
}

// Agent defines one participating agent.
type Agent struct {
	ID           string   `yaml:"id"`
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	APIKeyEnv    string   `yaml:"api_key_env"`
	BaseURL      string   `yaml:"base_url,omitempty"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	Skills       []string `yaml:"skills,omitempty"`

	// Context lists extra directories the agent may read.
	Context []string `yaml:"context,omitempty"`
}

// Coordination holds per-turn tunables.
type Coordination struct {
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	MaxRestarts       int           `yaml:"max_restarts"`
	AllowSelfVotes    *bool         `yaml:"allow_self_votes,omitempty"`
	EnableRestartTool *bool         `yaml:"enable_restart_tool,omitempty"`
}

// UnmarshalYAML accepts attempt_timeout in time.ParseDuration form
// ("90s", "10m") and leaves defaults in place for omitted keys.
func (c *Coordination) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AttemptTimeout    string `yaml:"attempt_timeout"`
		MaxRestarts       *int   `yaml:"max_restarts"`
		AllowSelfVotes    *bool  `yaml:"allow_self_votes"`
		EnableRestartTool *bool  `yaml:"enable_restart_tool"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.AttemptTimeout != "" {
		d, err := time.ParseDuration(raw.AttemptTimeout)
		if err != nil {
			return fmt.Errorf("coordination.attempt_timeout: %w", err)
		}
		c.AttemptTimeout = d
	}
	if raw.MaxRestarts != nil {
		c.MaxRestarts = *raw.MaxRestarts
	}
	if raw.AllowSelfVotes != nil {
		c.AllowSelfVotes = raw.AllowSelfVotes
	}
	if raw.EnableRestartTool != nil {
		c.EnableRestartTool = raw.EnableRestartTool
	}
	return nil
}

// Storage names the attempt-store base directories and the workspace
// root for live attempts.
type Storage struct {
	// Bases are merged on read; the first holds new sessions.
	Bases         []string `yaml:"bases"`
	WorkspaceRoot string   `yaml:"workspace_root"`
}

// Memory configures the SQLite memory store.
type Memory struct {
	Path string `yaml:"path,omitempty"`
}

// Observability configures logging, metrics, and tracing.
type Observability struct {
	LogLevel     string `yaml:"log_level"`
	LogJSON      bool   `yaml:"log_json"`
	MetricsAddr  string `yaml:"metrics_addr,omitempty"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// Default returns the configuration used when the file leaves a
// setting out.
func Default() Config {
	return Config{
		Coordination: Coordination{
			AttemptTimeout: 10 * time.Minute,
			MaxRestarts:    3,
		},
		Storage: Storage{
			Bases:         []string{".massgen/sessions-store"},
			WorkspaceRoot: ".massgen/workspaces",
		},
		Observability: Observability{
			LogLevel: "info",
		},
	}
}

// Load reads and validates the YAML file at path, applying defaults
// for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the structural requirements.
func (c *Config) Validate() error {
	if len(c.Storage.Bases) == 0 {
		return fmt.Errorf("storage.bases must not be empty")
	}
	seen := make(map[string]bool)
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[agent.ID] {
			return fmt.Errorf("duplicate agent id %q", agent.ID)
		}
		seen[agent.ID] = true
		if agent.Provider == "" {
			return fmt.Errorf("agent %q: provider is required", agent.ID)
		}
		if agent.Model == "" {
			return fmt.Errorf("agent %q: model is required", agent.ID)
		}
	}
	if c.Coordination.MaxRestarts < 0 {
		return fmt.Errorf("coordination.max_restarts must be >= 0")
	}
	return nil
}

// AllowSelfVotes resolves the tri-state flag; unset means allowed.
func (c *Coordination) SelfVotesAllowed() bool {
	return c.AllowSelfVotes == nil || *c.AllowSelfVotes
}

// RestartToolEnabled resolves the tri-state flag; unset means enabled.
func (c *Coordination) RestartToolEnabled() bool {
	return c.EnableRestartTool == nil || *c.EnableRestartTool
}

// APIKey reads the agent's key from its configured environment
// variable, falling back to provider defaults.
func (a *Agent) APIKey() string {
	if a.APIKeyEnv != "" {
		return os.Getenv(a.APIKeyEnv)
	}
	switch a.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}
