// handlers.go contains the command implementations behind the cobra
// definitions in commands.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/internal/backend/providers"
	"github.com/massgen/massgen/internal/config"
	"github.com/massgen/massgen/internal/display"
	"github.com/massgen/massgen/internal/memory"
	"github.com/massgen/massgen/internal/observability"
	"github.com/massgen/massgen/internal/orchestrator"
	"github.com/massgen/massgen/internal/session"
	"github.com/massgen/massgen/internal/storage"
	"github.com/massgen/massgen/internal/tools"
	"github.com/massgen/massgen/internal/tracker"
)

type runOptions struct {
	configPath    string
	sessionID     string
	debug         bool
	showReasoning bool
}

// maxMemoryNotes caps the notes injected into agent prompts.
const maxMemoryNotes = 5

func runRun(cmd *cobra.Command, opts runOptions, task string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents configured in %s", opts.configPath)
	}

	level := cfg.Observability.LogLevel
	if opts.debug {
		level = "debug"
	}
	logger := observability.NewLogger(level, cfg.Observability.LogJSON)
	slog.SetDefault(logger)

	if task == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read task from stdin: %w", err)
		}
		task = strings.TrimSpace(string(data))
	}
	if task == "" {
		return fmt.Errorf("task must not be empty")
	}

	shutdownTracing, err := observability.SetupTracing(ctx, "massgen", cfg.Observability.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		serveMetrics(addr, reg, logger)
	}

	store, err := storage.NewStore(cfg.Storage.Bases, logger)
	if err != nil {
		return fmt.Errorf("open attempt store: %w", err)
	}

	registry := tools.NewRegistry(logger)
	for _, h := range tools.FilesystemHandlers() {
		registry.MustRegister(h)
	}
	registry.SetDenialHook(metrics.DenialHook())

	memoryNotes, memStore, err := loadMemory(ctx, cfg.Memory.Path, task, logger)
	if err != nil {
		return err
	}
	if memStore != nil {
		defer memStore.Close()
	}

	agents, err := buildAgents(cfg, registry, memoryNotes, logger)
	if err != nil {
		return err
	}

	sessions := session.NewManager(store, logger)
	var state *session.State
	if opts.sessionID != "" {
		state, err = sessions.Resume(ctx, opts.sessionID)
		if err != nil {
			return err
		}
	} else {
		state = sessions.New()
	}

	term := display.NewTerminal(cmd.OutOrStdout())
	term.ShowReasoning = opts.showReasoning
	events := tracker.New()
	events.Subscribe(term.Subscriber())
	events.Subscribe(metrics.Subscriber())

	ocfg := orchestrator.DefaultConfig()
	ocfg.SessionID = state.SessionID
	ocfg.TurnNumber = state.NextTurn
	ocfg.Agents = agents
	ocfg.History = state.History
	ocfg.Store = store
	ocfg.Tracker = events
	ocfg.Sink = term.Sink()
	ocfg.WorkspaceRoot = cfg.Storage.WorkspaceRoot
	ocfg.MaxRestarts = cfg.Coordination.MaxRestarts
	ocfg.AllowSelfVotes = cfg.Coordination.SelfVotesAllowed()
	ocfg.EnableRestartTool = cfg.Coordination.RestartToolEnabled()
	ocfg.Metrics = metrics
	ocfg.Logger = logger
	if cfg.Coordination.AttemptTimeout > 0 {
		ocfg.AttemptTimeout = cfg.Coordination.AttemptTimeout
	}

	orch, err := orchestrator.New(ocfg)
	if err != nil {
		return err
	}

	result, err := orch.RunTurn(ctx, task)
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}
	if err := sessions.RecordTurn(ctx, state, task, result.WinnerID, result.Answer, result.Attempts); err != nil {
		return err
	}
	if memStore != nil {
		if _, err := memStore.Save(ctx, result.Answer, memory.TierShort); err != nil {
			logger.Warn("memory save failed", "error", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nSession: %s (turn %d, %d attempt(s), winner %s)\n",
		state.SessionID, result.TurnNumber, result.Attempts, result.WinnerID)
	return nil
}

// buildAgents opens one backend per configured agent and assembles the
// orchestrator agent configs. All agents share the tool registry.
func buildAgents(cfg *config.Config, registry *tools.Registry, memoryNotes []string, logger *slog.Logger) ([]orchestrator.AgentConfig, error) {
	backends := providers.DefaultRegistry()
	agents := make([]orchestrator.AgentConfig, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		b, err := backends.Open(backend.Config{
			Provider: agent.Provider,
			Model:    agent.Model,
			APIKey:   agent.APIKey(),
			BaseURL:  agent.BaseURL,
			Logger:   logger.With("agent_id", agent.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", agent.ID, err)
		}
		agents = append(agents, orchestrator.AgentConfig{
			AgentID:      agent.ID,
			SystemPrompt: agent.SystemPrompt,
			Backend:      b,
			Tools:        registry,
			Skills:       agent.Skills,
			MemoryNotes:  memoryNotes,
			ContextDirs:  agent.Context,
		})
	}
	return agents, nil
}

// loadMemory opens the SQLite memory store when configured and returns
// the notes most relevant to the task.
func loadMemory(ctx context.Context, path, task string, logger *slog.Logger) ([]string, *memory.SQLiteStore, error) {
	if path == "" {
		return nil, nil, nil
	}
	store, err := memory.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open memory store: %w", err)
	}
	entries, err := store.Search(ctx, firstWords(task, 3))
	if err != nil {
		logger.Warn("memory search failed", "error", err)
		return nil, store, nil
	}
	notes := make([]string, 0, maxMemoryNotes)
	for _, entry := range entries {
		if len(notes) == maxMemoryNotes {
			break
		}
		notes = append(notes, entry.Content)
	}
	return notes, store, nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// serveMetrics exposes the Prometheus registry on addr. Errors are
// logged rather than fatal; metrics are best-effort.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}

func runSessionsList(cmd *cobra.Command, configPath string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	ids, err := store.Sessions(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No stored sessions.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	turns, err := store.PreviousTurns(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	winners, err := store.Winners(cmd.Context(), sessionID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintf(out, "Session %s has no closed turns.\n", sessionID)
		return nil
	}
	for _, turn := range turns {
		fmt.Fprintf(out, "turn %d\n", turn.TurnNumber)
		fmt.Fprintf(out, "  task:   %s\n", firstLine(turn.Task))
		fmt.Fprintf(out, "  answer: %s\n", firstLine(turn.Answer))
	}
	if len(winners) > 0 {
		fmt.Fprintf(out, "winners: %s\n", strings.Join(winners, ", "))
	}
	return nil
}

func openStore(configPath string) (*storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Inspection commands still work without a config file by
		// falling back to the default store location.
		if errors.Is(err, os.ErrNotExist) {
			def := config.Default()
			cfg = &def
		} else {
			return nil, err
		}
	}
	return storage.NewStore(cfg.Storage.Bases, slog.Default())
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 96
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}
