// Package runner drives a single agent through one attempt: it
// assembles the prompt and tool set, consumes the backend's chunk
// stream, detects coordination tool calls, dispatches task tools
// through the registry, and reports the agent's final coordination
// outcome to the orchestrator.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/internal/permission"
	"github.com/massgen/massgen/internal/stream"
	"github.com/massgen/massgen/internal/tools"
	"github.com/massgen/massgen/pkg/models"
)

// defaultMaxIterations bounds backend round trips within one attempt.
// Each tool-result feedback cycle costs one iteration.
const defaultMaxIterations = 8

// UpdateKind tags live coordination notifications to the orchestrator.
type UpdateKind string

const (
	UpdateAnswer  UpdateKind = "answer"
	UpdateVote    UpdateKind = "vote"
	UpdateRestart UpdateKind = "restart"
)

// Update is a coordination event reported while the runner is still
// streaming. The orchestrator resolves vote queueing from these.
type Update struct {
	AgentID string
	Kind    UpdateKind
	Time    time.Time

	Answer string

	VoteTarget string
	VoteReason string

	RestartReason       string
	RestartInstructions string
}

// Outcome is the runner's terminal coordination state.
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeVoted     Outcome = "voted"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is what one attempt of one agent produced. Coordination
// choices are last-write-wins, so at most one of Answer or VoteTarget
// is meaningful, matching Outcome.
type Result struct {
	AgentID    string
	Outcome    Outcome
	Answer     string
	AnswerTime time.Time
	VoteTarget string
	VoteReason string
	Err        error
}

// Config wires one runner.
type Config struct {
	AgentID      string
	SystemPrompt string

	Backend backend.Backend

	// Tools dispatches non-coordination tool calls. Nil means the
	// agent only has the coordination tools.
	Tools       *tools.Registry
	Permissions *permission.Manager

	WorkspaceDir string
	ContextDirs  []string
	Skills       []string
	MemoryNotes  []string

	// History is the restored conversation from prior turns.
	History []models.Message

	// Sink receives display chunks. Chunks are tagged with AgentID
	// before emission.
	Sink stream.Sink

	// OnUpdate is called for each coordination event, on the runner
	// goroutine. Must not block.
	OnUpdate func(Update)

	AllowRestart  bool
	MaxIterations int
	Logger        *slog.Logger
}

// Runner executes one agent for one attempt.
type Runner struct {
	cfg    Config
	sink   stream.Sink
	logger *slog.Logger
}

// New builds a runner. The backend is required.
func New(cfg Config) (*Runner, error) {
	if cfg.AgentID == "" {
		return nil, errors.New("runner: agent id required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("runner: backend required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runner", "agent_id", cfg.AgentID)

	var sink stream.Sink = stream.NewCallbackSink(nil)
	if cfg.Sink != nil {
		sink = stream.Tagged(cfg.Sink, cfg.AgentID)
	}
	return &Runner{cfg: cfg, sink: sink, logger: logger}, nil
}

// coordState is the runner-local last-write-wins coordination state.
type coordState struct {
	outcome    Outcome
	answer     string
	answerTime time.Time
	voteTarget string
	voteReason string
}

// Run executes the attempt until the agent reaches a terminal
// coordination state, fails, or the context is cancelled.
func (r *Runner) Run(ctx context.Context, task string) Result {
	ctx, span := otel.Tracer("github.com/massgen/massgen/internal/runner").Start(ctx, "runner.attempt",
		trace.WithAttributes(attribute.String("agent_id", r.cfg.AgentID)))
	defer span.End()
	result := r.run(ctx, task)
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	return result
}

func (r *Runner) run(ctx context.Context, task string) Result {
	system := AssemblePrompt(append(r.promptSections(), Section{
		Name:     "task",
		Priority: PriorityTask,
		Content:  "Current task:\n" + task,
	}))
	specs := r.toolSpecs()

	messages := make([]models.Message, 0, len(r.cfg.History)+1)
	messages = append(messages, r.cfg.History...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: task})

	r.emit(models.StatusChunk(models.StatusAnswering))

	state := coordState{outcome: OutcomeCompleted}
	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return r.cancelled(state, err)
		}

		chunks, err := r.cfg.Backend.ExecuteStreaming(ctx, backend.Request{
			System:   system,
			Messages: messages,
			Tools:    specs,
		})
		if err != nil {
			return r.failed(fmt.Errorf("start stream: %w", err))
		}

		followUps, err := r.consume(ctx, stream.Guard(ctx, chunks, r.logger), &state, &messages)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return r.cancelled(state, err)
			}
			return r.failed(err)
		}
		if len(followUps) == 0 {
			return r.finish(state)
		}
		messages = append(messages, followUps...)
	}

	r.logger.Warn("iteration budget exhausted", "max_iterations", r.cfg.MaxIterations)
	return r.finish(state)
}

// consume drains one guarded chunk sequence. It returns tool-result
// messages that require another backend round trip; an empty slice
// means the attempt is over.
func (r *Runner) consume(ctx context.Context, chunks <-chan *models.StreamChunk, state *coordState, messages *[]models.Message) ([]models.Message, error) {
	var results []models.Message
	taskToolCalled := false

	for chunk := range chunks {
		switch chunk.Type {
		case models.ChunkContent, models.ChunkReasoning:
			r.emit(chunk)

		case models.ChunkToolCalls:
			for _, call := range chunk.ToolCalls {
				feedback, isTask := r.handleCall(ctx, call, state)
				taskToolCalled = taskToolCalled || isTask
				results = append(results, feedback)
			}

		case models.ChunkCompleteMessage:
			if chunk.Message != nil {
				*messages = append(*messages, *chunk.Message)
			}

		case models.ChunkError:
			err := chunk.Err
			if err == nil {
				err = errors.New(chunk.ErrText)
			}
			return nil, err

		case models.ChunkDone:
			if taskToolCalled {
				return results, nil
			}
			return nil, nil
		}
	}
	// Guard guarantees a terminator, so an exhausted channel without
	// one means the context died underneath us.
	return nil, ctx.Err()
}

// handleCall routes one tool call. Coordination calls mutate the
// runner-local state and notify the orchestrator; everything else goes
// through the registry. The returned message feeds the call's result
// back to the model on the next round trip.
func (r *Runner) handleCall(ctx context.Context, call models.ToolCall, state *coordState) (models.Message, bool) {
	feedback := func(content string) models.Message {
		return models.Message{Role: models.RoleTool, ToolCallID: call.ID, Content: content}
	}

	switch call.Name {
	case tools.NameNewAnswer:
		content := strings.TrimSpace(call.StringArg("content"))
		if content == "" {
			r.logger.Warn("new_answer with empty content dropped")
			return feedback("error: new_answer requires non-empty content"), false
		}
		state.outcome = OutcomeAnswered
		state.answer = content
		state.answerTime = time.Now()
		state.voteTarget, state.voteReason = "", ""
		r.notify(Update{AgentID: r.cfg.AgentID, Kind: UpdateAnswer, Answer: content, Time: state.answerTime})
		r.emit(models.StatusChunk(models.StatusAnswered))
		return feedback("answer recorded"), false

	case tools.NameVote:
		target := strings.TrimSpace(call.StringArg("agent_id"))
		if target == "" {
			r.logger.Warn("vote without agent_id dropped")
			return feedback("error: vote requires agent_id"), false
		}
		if target == r.cfg.AgentID && state.outcome == OutcomeAnswered {
			// A self-vote endorses the agent's own standing answer
			// instead of replacing it.
			state.voteTarget = target
			state.voteReason = call.StringArg("reason")
			r.notify(Update{
				AgentID:    r.cfg.AgentID,
				Kind:       UpdateVote,
				VoteTarget: target,
				VoteReason: state.voteReason,
				Time:       time.Now(),
			})
			return feedback("self-vote recorded"), false
		}
		state.outcome = OutcomeVoted
		state.voteTarget = target
		state.voteReason = call.StringArg("reason")
		state.answer, state.answerTime = "", time.Time{}
		r.notify(Update{
			AgentID:    r.cfg.AgentID,
			Kind:       UpdateVote,
			VoteTarget: target,
			VoteReason: state.voteReason,
			Time:       time.Now(),
		})
		r.emit(models.StatusChunk(models.StatusVoted))
		return feedback("vote recorded"), false

	case tools.NameRestart:
		if !r.cfg.AllowRestart {
			return feedback("error: restart is not available"), false
		}
		r.notify(Update{
			AgentID:             r.cfg.AgentID,
			Kind:                UpdateRestart,
			RestartReason:       call.StringArg("reason"),
			RestartInstructions: call.StringArg("instructions"),
			Time:                time.Now(),
		})
		return feedback("restart requested"), false

	default:
		out := r.dispatch(ctx, call)
		r.emit(models.ToolResultChunk(call.ID, out.Content, out.IsError))
		return feedback(out.Content), true
	}
}

func (r *Runner) dispatch(ctx context.Context, call models.ToolCall) tools.Output {
	if r.cfg.Tools == nil {
		return tools.Errorf("unknown tool %q", call.Name)
	}
	return r.cfg.Tools.Dispatch(ctx, call, tools.AgentContext{
		AgentID:      r.cfg.AgentID,
		WorkspaceDir: r.cfg.WorkspaceDir,
		Permissions:  r.cfg.Permissions,
	})
}

func (r *Runner) finish(state coordState) Result {
	result := Result{
		AgentID:    r.cfg.AgentID,
		Outcome:    state.outcome,
		Answer:     state.answer,
		AnswerTime: state.answerTime,
		VoteTarget: state.voteTarget,
		VoteReason: state.voteReason,
	}
	if state.outcome == OutcomeCompleted {
		r.emit(models.StatusChunk(models.StatusCompleted))
	}
	return result
}

func (r *Runner) failed(err error) Result {
	r.logger.Error("runner failed", "error", err)
	return Result{AgentID: r.cfg.AgentID, Outcome: OutcomeFailed, Err: err}
}

// cancelled closes the attempt at a cancellation point. A coordination
// choice recorded before the cancel still stands; only an agent that
// recorded neither an answer nor a vote reports cancelled.
func (r *Runner) cancelled(state coordState, err error) Result {
	r.logger.Debug("runner cancelled", "error", err)
	switch state.outcome {
	case OutcomeAnswered, OutcomeVoted:
		result := r.finish(state)
		result.Err = err
		return result
	default:
		return Result{AgentID: r.cfg.AgentID, Outcome: OutcomeCancelled, Err: err}
	}
}

func (r *Runner) emit(chunk *models.StreamChunk) {
	r.sink.Emit(context.Background(), chunk)
}

func (r *Runner) notify(update Update) {
	if r.cfg.OnUpdate != nil {
		r.cfg.OnUpdate(update)
	}
}
