// Package orchestrator drives one turn of multi-agent coordination: it
// launches agent runners in parallel, aggregates their answers and
// votes, restarts inconclusive attempts, selects a winner, and runs
// the final-presentation round.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/internal/observability"
	"github.com/massgen/massgen/internal/permission"
	"github.com/massgen/massgen/internal/runner"
	"github.com/massgen/massgen/internal/storage"
	"github.com/massgen/massgen/internal/stream"
	"github.com/massgen/massgen/internal/tools"
	"github.com/massgen/massgen/internal/tracker"
	"github.com/massgen/massgen/pkg/models"
)

// AgentID used to tag chunks emitted by the orchestrator itself.
const orchestratorAgentID = "orchestrator"

var (
	// ErrRestartExhausted marks a turn that failed after its restart
	// budget, including the degenerate zero-agent case.
	ErrRestartExhausted = errors.New("restart budget exhausted")
)

// AgentConfig describes one participating agent.
type AgentConfig struct {
	AgentID      string
	SystemPrompt string
	Backend      backend.Backend
	Tools        *tools.Registry
	Skills       []string
	MemoryNotes  []string

	// ContextDirs are extra read-only directories beyond the other
	// agents' workspaces.
	ContextDirs []string
}

// Config wires one orchestrator for one session turn.
type Config struct {
	SessionID  string
	TurnNumber int
	Agents     []AgentConfig

	// History is the restored alternating user/assistant conversation
	// from prior turns.
	History []models.Message

	Store   *storage.Store
	Tracker *tracker.Tracker
	Sink    stream.Sink

	// WorkspaceRoot holds per-attempt agent workspaces, laid out as
	// turn_<N>/attempt_<M>/<agent_id>/.
	WorkspaceRoot string

	// AttemptTimeout cancels still-working runners; zero disables it.
	AttemptTimeout time.Duration

	// MaxRestarts caps restarts per turn.
	MaxRestarts int

	// AllowSelfVotes lets an agent vote for its own answer.
	AllowSelfVotes bool

	// EnableRestartTool offers the restart tool to agents.
	EnableRestartTool bool

	// Metrics, when set, receives attempt durations.
	Metrics *observability.Metrics

	Logger *slog.Logger
}

// DefaultConfig returns the standard tunables. Agents, store, and
// session identity must still be filled in.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout:    10 * time.Minute,
		MaxRestarts:       3,
		AllowSelfVotes:    true,
		EnableRestartTool: true,
	}
}

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	SessionID     string
	TurnNumber    int
	AttemptNumber int
	WinnerID      string
	Answer        string
	Attempts      int
}

// Orchestrator runs turns.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	sink    stream.Sink
	tracker *tracker.Tracker
	tracer  trace.Tracer
}

// New validates the config and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("orchestrator: session id required")
	}
	if cfg.TurnNumber < 1 {
		return nil, errors.New("orchestrator: turn number must be >= 1")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store required")
	}
	if cfg.WorkspaceRoot == "" {
		return nil, errors.New("orchestrator: workspace root required")
	}
	if cfg.MaxRestarts < 0 {
		return nil, errors.New("orchestrator: max restarts must be >= 0")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator", "session_id", cfg.SessionID, "turn", cfg.TurnNumber)

	tr := cfg.Tracker
	if tr == nil {
		tr = tracker.New()
	}
	var sink stream.Sink = stream.NewCallbackSink(nil)
	if cfg.Sink != nil {
		sink = stream.Tagged(cfg.Sink, orchestratorAgentID)
	}
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		sink:    sink,
		tracker: tr,
		tracer:  otel.Tracer("github.com/massgen/massgen/internal/orchestrator"),
	}, nil
}

// Tracker exposes the coordination event log for displays.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// attemptOutcome is what one attempt produced.
type attemptOutcome struct {
	winner              *candidate
	results             map[string]runner.Result
	workspaces          map[string]string
	restartRequested    bool
	restartReason       string
	restartInstructions string
}

// RunTurn executes the full answer/vote/restart cycle for one task and
// returns the presented winning answer.
func (o *Orchestrator) RunTurn(ctx context.Context, task string) (*TurnResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("session_id", o.cfg.SessionID),
		attribute.Int("turn", o.cfg.TurnNumber),
		attribute.Int("agents", len(o.cfg.Agents)),
	))
	defer span.End()

	if len(o.cfg.Agents) == 0 {
		o.emitError("restart budget exhausted: no agents configured")
		return nil, fmt.Errorf("no agents configured: %w", ErrRestartExhausted)
	}
	if len(o.cfg.History) > 0 {
		o.tracker.Record(tracker.EventContextReceived, "", 0, map[string]any{
			"messages": len(o.cfg.History),
		})
	}

	maxAttempts := o.cfg.MaxRestarts + 1
	briefing := ""
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err := o.runAttempt(ctx, task, attempt, briefing)
		if err != nil {
			o.emitError("attempt failed: " + err.Error())
			return nil, err
		}
		if outcome.winner != nil {
			result, err := o.finishTurn(ctx, task, attempt, outcome)
			if err != nil {
				o.emitError("storage error: " + err.Error())
				return nil, err
			}
			return result, nil
		}

		if err := o.saveInconclusiveAttempt(ctx, task, attempt, outcome); err != nil {
			o.emitError("storage error: " + err.Error())
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		briefing, err = o.restartBriefing(ctx, attempt+1, outcome.restartInstructions)
		if err != nil {
			o.emitError("storage error: " + err.Error())
			return nil, err
		}
		o.tracker.Record(tracker.EventRestartCompleted, "", attempt, map[string]any{
			"reason":       restartReason(outcome),
			"next_attempt": attempt + 1,
		})
		o.logger.Info("restarting attempt",
			"attempt", attempt, "reason", restartReason(outcome))
	}

	o.emitError(fmt.Sprintf("restart budget exhausted: turn failed after %d attempts", maxAttempts))
	return nil, fmt.Errorf("turn %d failed after %d attempts: %w",
		o.cfg.TurnNumber, maxAttempts, ErrRestartExhausted)
}

func restartReason(outcome *attemptOutcome) string {
	if outcome.restartRequested && outcome.restartReason != "" {
		return outcome.restartReason
	}
	if outcome.restartRequested {
		return "restart requested"
	}
	return "inconclusive"
}

// runAttempt launches every agent, waits for closure, and selects a
// winner from the final coordination states.
func (o *Orchestrator) runAttempt(ctx context.Context, task string, attempt int, briefing string) (*attemptOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.attempt",
		trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer span.End()

	if o.cfg.Metrics != nil {
		start := time.Now()
		defer func() { o.cfg.Metrics.ObserveAttempt(time.Since(start)) }()
	}

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if o.cfg.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	}
	defer cancel()

	workspaces, err := o.createWorkspaces(attempt)
	if err != nil {
		return nil, err
	}

	outcome := &attemptOutcome{
		results:    make(map[string]runner.Result, len(o.cfg.Agents)),
		workspaces: workspaces,
	}

	var mu sync.Mutex
	answered := make(map[string]bool)

	agentTask := task
	if briefing != "" {
		agentTask = task + "\n\n" + briefing
	}

	resultCh := make(chan runner.Result, len(o.cfg.Agents))
	for _, agent := range o.cfg.Agents {
		run, err := o.buildRunner(agent, attempt, workspaces, &mu, answered, outcome)
		if err != nil {
			return nil, err
		}
		o.tracker.Record(tracker.EventStatusChange, agent.AgentID, attempt, map[string]any{
			"state": "working",
		})
		go func() {
			resultCh <- run.Run(attemptCtx, agentTask)
		}()
	}

	for range o.cfg.Agents {
		result := <-resultCh
		outcome.results[result.AgentID] = result
		o.recordResult(result, attempt)
	}
	cancel()

	candidates := make(map[string]*candidate)
	var ballots []ballot
	for id, result := range outcome.results {
		switch result.Outcome {
		case runner.OutcomeAnswered:
			candidates[id] = &candidate{
				agentID:    id,
				answer:     result.Answer,
				answerTime: result.AnswerTime,
			}
			if result.VoteTarget == id {
				ballots = append(ballots, ballot{voter: id, target: id, reason: result.VoteReason})
			}
		case runner.OutcomeVoted:
			ballots = append(ballots, ballot{
				voter:  id,
				target: result.VoteTarget,
				reason: result.VoteReason,
			})
		}
	}

	winner, dropped, ok := selectWinner(candidates, ballots, o.cfg.AllowSelfVotes)
	for _, b := range dropped {
		o.logger.Warn("vote dropped", "voter", b.voter, "target", b.target)
		o.tracker.Record(tracker.EventStatusChange, b.voter, attempt, map[string]any{
			"state":        "voted",
			"dropped_vote": b.target,
		})
	}

	// A restart signal overrides any winner this attempt produced.
	if ok && !outcome.restartRequested {
		outcome.winner = winner
	}
	return outcome, nil
}

// buildRunner wires one agent's runner with its permission view: own
// workspace writable, every other agent's workspace read-only.
func (o *Orchestrator) buildRunner(agent AgentConfig, attempt int, workspaces map[string]string, mu *sync.Mutex, answered map[string]bool, outcome *attemptOutcome) (*runner.Runner, error) {
	managed := []permission.ManagedPath{
		{Path: workspaces[agent.AgentID], Perm: permission.PermWrite},
	}
	var contextDirs []string
	for id, dir := range workspaces {
		if id == agent.AgentID {
			continue
		}
		contextDirs = append(contextDirs, dir)
		managed = append(managed, permission.ManagedPath{Path: dir, Perm: permission.PermRead})
	}
	for _, dir := range agent.ContextDirs {
		contextDirs = append(contextDirs, dir)
		managed = append(managed, permission.ManagedPath{Path: dir, Perm: permission.PermRead})
	}
	sort.Strings(contextDirs)

	return runner.New(runner.Config{
		AgentID:      agent.AgentID,
		SystemPrompt: agent.SystemPrompt,
		Backend:      agent.Backend,
		Tools:        agent.Tools,
		Permissions:  permission.NewManager(managed, o.logger),
		WorkspaceDir: workspaces[agent.AgentID],
		ContextDirs:  contextDirs,
		Skills:       agent.Skills,
		MemoryNotes:  agent.MemoryNotes,
		History:      o.cfg.History,
		Sink:         o.cfg.Sink,
		AllowRestart: o.cfg.EnableRestartTool,
		Logger:       o.cfg.Logger,
		OnUpdate: func(u runner.Update) {
			o.onUpdate(u, attempt, mu, answered, outcome)
		},
	})
}

// onUpdate records live coordination events. Runs on runner
// goroutines; the mutex guards the shared attempt state.
func (o *Orchestrator) onUpdate(u runner.Update, attempt int, mu *sync.Mutex, answered map[string]bool, outcome *attemptOutcome) {
	mu.Lock()
	defer mu.Unlock()

	switch u.Kind {
	case runner.UpdateAnswer:
		answered[u.AgentID] = true
		o.tracker.Record(tracker.EventNewAnswer, u.AgentID, attempt, map[string]any{
			"length": len(u.Answer),
		})

	case runner.UpdateVote:
		details := map[string]any{"target": u.VoteTarget, "reason": u.VoteReason}
		if !answered[u.VoteTarget] {
			// Queued until the target answers; counted at close if it
			// did, dropped otherwise.
			details["queued"] = true
		}
		o.tracker.Record(tracker.EventVoteCast, u.AgentID, attempt, details)

	case runner.UpdateRestart:
		if outcome.restartRequested {
			o.logger.Debug("restart already requested, coalescing", "agent_id", u.AgentID)
			return
		}
		outcome.restartRequested = true
		outcome.restartReason = u.RestartReason
		outcome.restartInstructions = u.RestartInstructions
	}
}

func (o *Orchestrator) recordResult(result runner.Result, attempt int) {
	state := map[runner.Outcome]string{
		runner.OutcomeAnswered:  "has_answer",
		runner.OutcomeVoted:     "voted",
		runner.OutcomeCompleted: "completed",
		runner.OutcomeFailed:    "failed",
		runner.OutcomeCancelled: "completed",
	}[result.Outcome]
	details := map[string]any{"state": state}
	if result.Outcome == runner.OutcomeFailed && result.Err != nil {
		details["error"] = result.Err.Error()
		o.logger.Warn("agent failed", "agent_id", result.AgentID, "error", result.Err)
	}
	o.tracker.Record(tracker.EventStatusChange, result.AgentID, attempt, details)
}

func (o *Orchestrator) createWorkspaces(attempt int) (map[string]string, error) {
	workspaces := make(map[string]string, len(o.cfg.Agents))
	for _, agent := range o.cfg.Agents {
		if agent.AgentID == "" {
			return nil, errors.New("orchestrator: agent with empty id")
		}
		if _, dup := workspaces[agent.AgentID]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate agent id %q", agent.AgentID)
		}
		dir := filepath.Join(o.cfg.WorkspaceRoot,
			fmt.Sprintf("turn_%d", o.cfg.TurnNumber),
			fmt.Sprintf("attempt_%d", attempt),
			agent.AgentID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace for %s: %w", agent.AgentID, err)
		}
		workspaces[agent.AgentID] = dir
	}
	return workspaces, nil
}

// finishTurn runs the final-presentation round and persists the
// successful attempt.
func (o *Orchestrator) finishTurn(ctx context.Context, task string, attempt int, outcome *attemptOutcome) (*TurnResult, error) {
	winner := outcome.winner
	o.tracker.Record(tracker.EventFinalAgentSelected, winner.agentID, attempt, map[string]any{
		"votes": winner.votes,
	})
	o.tracker.Record(tracker.EventFinalRoundStart, winner.agentID, attempt, nil)

	answer := o.presentFinal(ctx, task, attempt, winner, outcome)
	o.tracker.Record(tracker.EventFinalAnswer, winner.agentID, attempt, map[string]any{
		"length": len(answer),
	})

	if _, err := o.cfg.Store.SaveAttempt(ctx, storage.SaveRequest{
		SessionID:      o.cfg.SessionID,
		Turn:           o.cfg.TurnNumber,
		Attempt:        attempt,
		Task:           task,
		Answer:         answer,
		WinningAgentID: winner.agentID,
		WorkspaceDir:   outcome.workspaces[winner.agentID],
	}); err != nil {
		return nil, fmt.Errorf("persist winning attempt: %w", err)
	}
	if err := o.cfg.Store.MarkSuccessful(ctx, o.cfg.SessionID, o.cfg.TurnNumber, attempt); err != nil {
		return nil, fmt.Errorf("mark attempt successful: %w", err)
	}

	o.sink.Emit(ctx, models.StatusChunk(models.StatusCompleted))
	return &TurnResult{
		SessionID:     o.cfg.SessionID,
		TurnNumber:    o.cfg.TurnNumber,
		AttemptNumber: attempt,
		WinnerID:      winner.agentID,
		Answer:        answer,
		Attempts:      attempt,
	}, nil
}

// presentFinal re-invokes the winner to produce the user-facing
// answer. Presentation failures fall back to the recorded candidate
// answer; the turn still closes.
func (o *Orchestrator) presentFinal(ctx context.Context, task string, attempt int, winner *candidate, outcome *attemptOutcome) string {
	agent, ok := o.agentByID(winner.agentID)
	if !ok {
		return winner.answer
	}
	presenter, err := runner.New(runner.Config{
		AgentID:      agent.AgentID,
		SystemPrompt: agent.SystemPrompt,
		Backend:      agent.Backend,
		WorkspaceDir: outcome.workspaces[agent.AgentID],
		History:      o.cfg.History,
		Sink:         o.cfg.Sink,
		Logger:       o.cfg.Logger,
	})
	if err != nil {
		o.logger.Warn("presenter construction failed", "error", err)
		return winner.answer
	}
	answer, err := presenter.Present(ctx, task, winner.answer)
	if err != nil {
		o.logger.Warn("final presentation failed, using candidate answer",
			"agent_id", winner.agentID, "attempt", attempt, "error", err)
		return winner.answer
	}
	return answer
}

func (o *Orchestrator) agentByID(id string) (AgentConfig, bool) {
	for _, agent := range o.cfg.Agents {
		if agent.AgentID == id {
			return agent, true
		}
	}
	return AgentConfig{}, false
}

// saveInconclusiveAttempt persists the failed attempt so restarts can
// brief the next round and the turn history stays complete.
func (o *Orchestrator) saveInconclusiveAttempt(ctx context.Context, task string, attempt int, outcome *attemptOutcome) error {
	best := ""
	workspace := ""
	// Keep the most useful trace of the attempt: any answer text that
	// existed when it closed.
	var ids []string
	for id := range outcome.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if result := outcome.results[id]; result.Answer != "" {
			best = result.Answer
			workspace = outcome.workspaces[id]
			break
		}
	}

	_, err := o.cfg.Store.SaveAttempt(ctx, storage.SaveRequest{
		SessionID:           o.cfg.SessionID,
		Turn:                o.cfg.TurnNumber,
		Attempt:             attempt,
		Task:                task,
		Answer:              best,
		WorkspaceDir:        workspace,
		RestartReason:       restartReason(outcome),
		RestartInstructions: outcome.restartInstructions,
	})
	if err != nil {
		return fmt.Errorf("persist inconclusive attempt: %w", err)
	}
	return nil
}

// restartBriefing summarizes prior attempts for the next round.
func (o *Orchestrator) restartBriefing(ctx context.Context, nextAttempt int, instructions string) (string, error) {
	prior, err := o.cfg.Store.PreviousAttemptsContext(ctx, o.cfg.SessionID, o.cfg.TurnNumber, nextAttempt)
	if err != nil {
		return "", fmt.Errorf("load prior attempts: %w", err)
	}

	var b strings.Builder
	b.WriteString("This is a fresh attempt; earlier attempts did not converge.\n")
	for _, record := range prior {
		fmt.Fprintf(&b, "- attempt %d: %s", record.AttemptNumber, record.RestartReason)
		if record.AnswerText != "" {
			fmt.Fprintf(&b, " (best answer so far: %s)", truncate(record.AnswerText, 200))
		}
		b.WriteString("\n")
	}
	if instructions != "" {
		b.WriteString("Guidance for this attempt: " + instructions + "\n")
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (o *Orchestrator) emitError(message string) {
	o.sink.Emit(context.Background(), models.ErrorChunk(errors.New(message)))
}
