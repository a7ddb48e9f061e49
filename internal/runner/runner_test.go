package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/internal/permission"
	"github.com/massgen/massgen/internal/stream"
	"github.com/massgen/massgen/internal/tools"
	"github.com/massgen/massgen/pkg/models"
)

// scriptedBackend replays one prepared chunk sequence per call and
// records the requests it received.
type scriptedBackend struct {
	mu       sync.Mutex
	scripts  [][]*models.StreamChunk
	requests []backend.Request
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) ExecuteStreaming(ctx context.Context, req backend.Request) (<-chan *models.StreamChunk, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var script []*models.StreamChunk
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	s.mu.Unlock()

	ch := make(chan *models.StreamChunk)
	go func() {
		defer close(ch)
		for _, chunk := range script {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func toolCall(id, name string, args map[string]any) models.ToolCall {
	raw, _ := json.Marshal(args)
	return models.ToolCall{ID: id, Name: name, Arguments: raw}
}

func newTestRunner(t *testing.T, b backend.Backend, mutate func(*Config)) (*Runner, *[]Update, chan *models.StreamChunk) {
	t.Helper()
	display := make(chan *models.StreamChunk, 64)
	var updates []Update
	var mu sync.Mutex
	cfg := Config{
		AgentID:      "a",
		SystemPrompt: "You are agent a.",
		Backend:      b,
		WorkspaceDir: t.TempDir(),
		Sink:         stream.NewChanSink(display),
		OnUpdate: func(u Update) {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, &updates, display
}

func drain(ch chan *models.StreamChunk) []*models.StreamChunk {
	var out []*models.StreamChunk
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestRunAnswer(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{{
		models.ContentChunk("thinking about it"),
		models.ToolCallsChunk(toolCall("c1", "new_answer", map[string]any{"content": "hi"})),
		models.DoneChunk(),
	}}}
	r, updates, display := newTestRunner(t, b, nil)

	result := r.Run(context.Background(), "say hi")
	if result.Outcome != OutcomeAnswered || result.Answer != "hi" {
		t.Fatalf("result = %+v", result)
	}
	if result.AnswerTime.IsZero() {
		t.Error("answer time not recorded")
	}

	if len(*updates) != 1 || (*updates)[0].Kind != UpdateAnswer || (*updates)[0].Answer != "hi" {
		t.Errorf("updates = %+v", *updates)
	}

	for _, chunk := range drain(display) {
		if chunk.AgentID != "a" {
			t.Errorf("chunk not tagged with agent id: %+v", chunk)
		}
	}
}

func TestRunVote(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{{
		models.ToolCallsChunk(toolCall("c1", "vote", map[string]any{"agent_id": "b", "reason": "correct"})),
		models.DoneChunk(),
	}}}
	r, updates, _ := newTestRunner(t, b, nil)

	result := r.Run(context.Background(), "task")
	if result.Outcome != OutcomeVoted || result.VoteTarget != "b" || result.VoteReason != "correct" {
		t.Fatalf("result = %+v", result)
	}
	if len(*updates) != 1 || (*updates)[0].VoteTarget != "b" {
		t.Errorf("updates = %+v", *updates)
	}
}

func TestRunLastWriteWins(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{{
		models.ToolCallsChunk(
			toolCall("c1", "new_answer", map[string]any{"content": "draft"}),
			toolCall("c2", "vote", map[string]any{"agent_id": "b"}),
		),
		models.DoneChunk(),
	}}}
	r, _, _ := newTestRunner(t, b, nil)

	result := r.Run(context.Background(), "task")
	if result.Outcome != OutcomeVoted {
		t.Fatalf("last write should win, got %+v", result)
	}
	if result.Answer != "" {
		t.Error("discarded answer still present")
	}
}

func TestRunNoCoordinationCompletes(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{{
		models.ContentChunk("just chatting"),
		models.DoneChunk(),
	}}}
	r, updates, _ := newTestRunner(t, b, nil)

	result := r.Run(context.Background(), "task")
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("result = %+v", result)
	}
	if len(*updates) != 0 {
		t.Errorf("unexpected updates: %+v", *updates)
	}
}

func TestRunErrorChunkFails(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{{
		models.ErrorChunk(errors.New("boom")),
	}}}
	r, _, _ := newTestRunner(t, b, nil)

	result := r.Run(context.Background(), "task")
	if result.Outcome != OutcomeFailed || result.Err == nil {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunTaskToolFeedback(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{
		{
			models.ToolCallsChunk(toolCall("c1", "write_file", map[string]any{
				"path": "out.txt", "content": "draft",
			})),
			models.DoneChunk(),
		},
		{
			models.ToolCallsChunk(toolCall("c2", "new_answer", map[string]any{"content": "done"})),
			models.DoneChunk(),
		},
	}}

	var workspace string
	r, _, _ := newTestRunner(t, b, func(cfg *Config) {
		workspace = cfg.WorkspaceDir
		registry := tools.NewRegistry(nil)
		for _, h := range tools.FilesystemHandlers() {
			registry.MustRegister(h)
		}
		cfg.Tools = registry
		cfg.Permissions = permission.NewManager([]permission.ManagedPath{
			{Path: workspace, Perm: permission.PermWrite},
		}, nil)
	})

	result := r.Run(context.Background(), "write a file then answer")
	if result.Outcome != OutcomeAnswered || result.Answer != "done" {
		t.Fatalf("result = %+v", result)
	}

	data, err := os.ReadFile(filepath.Join(workspace, "out.txt"))
	if err != nil || string(data) != "draft" {
		t.Errorf("tool write not performed: %q, %v", data, err)
	}

	if len(b.requests) != 2 {
		t.Fatalf("expected 2 backend calls, got %d", len(b.requests))
	}
	second := b.requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == models.RoleTool && msg.ToolCallID == "c1" {
			found = true
		}
	}
	if !found {
		t.Error("tool result not fed back into second request")
	}
}

func TestRunPermissionDenialIsNotFatal(t *testing.T) {
	contextDir := t.TempDir()
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{
		{
			models.ToolCallsChunk(toolCall("c1", "write_file", map[string]any{
				"path": filepath.Join(contextDir, "x.txt"), "content": "nope",
			})),
			models.DoneChunk(),
		},
		{
			models.ToolCallsChunk(toolCall("c2", "new_answer", map[string]any{"content": "recovered"})),
			models.DoneChunk(),
		},
	}}

	r, _, display := newTestRunner(t, b, func(cfg *Config) {
		registry := tools.NewRegistry(nil)
		for _, h := range tools.FilesystemHandlers() {
			registry.MustRegister(h)
		}
		cfg.Tools = registry
		cfg.Permissions = permission.NewManager([]permission.ManagedPath{
			{Path: cfg.WorkspaceDir, Perm: permission.PermWrite},
			{Path: contextDir, Perm: permission.PermRead},
		}, nil)
	})

	result := r.Run(context.Background(), "task")
	if result.Outcome != OutcomeAnswered || result.Answer != "recovered" {
		t.Fatalf("agent did not recover from denial: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(contextDir, "x.txt")); !os.IsNotExist(err) {
		t.Error("denied write was performed")
	}

	sawDenial := false
	for _, chunk := range drain(display) {
		if chunk.Type == models.ChunkToolResult && chunk.ToolResult != nil && chunk.ToolResult.IsError {
			sawDenial = true
		}
	}
	if !sawDenial {
		t.Error("denial not surfaced as error tool_result chunk")
	}
}

func TestRunCancellation(t *testing.T) {
	// A backend that never produces chunks; the guard converts the
	// cancelled context into a terminal error chunk.
	r, _, _ := newTestRunner(t, blockingBackend{ch: make(chan *models.StreamChunk)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := r.Run(ctx, "task")
	if result.Outcome != OutcomeCancelled {
		t.Fatalf("result = %+v", result)
	}
}

type blockingBackend struct{ ch chan *models.StreamChunk }

func (b blockingBackend) Name() string { return "blocking" }

func (b blockingBackend) ExecuteStreaming(ctx context.Context, req backend.Request) (<-chan *models.StreamChunk, error) {
	return b.ch, nil
}

// stallingBackend emits its chunks and then hangs without terminating
// the sequence; only context cancellation ends it.
type stallingBackend struct{ chunks []*models.StreamChunk }

func (b stallingBackend) Name() string { return "stalling" }

func (b stallingBackend) ExecuteStreaming(ctx context.Context, req backend.Request) (<-chan *models.StreamChunk, error) {
	ch := make(chan *models.StreamChunk, len(b.chunks))
	for _, c := range b.chunks {
		ch <- c
	}
	return ch, nil
}

func TestRunTimeoutKeepsRecordedAnswer(t *testing.T) {
	b := stallingBackend{chunks: []*models.StreamChunk{
		models.ToolCallsChunk(toolCall("c1", "new_answer", map[string]any{"content": "kept"})),
	}}
	r, updates, _ := newTestRunner(t, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result := r.Run(ctx, "task")
	if result.Outcome != OutcomeAnswered || result.Answer != "kept" {
		t.Fatalf("recorded answer lost at cancellation: %+v", result)
	}
	if result.AnswerTime.IsZero() {
		t.Error("answer time not preserved")
	}
	if len(*updates) != 1 || (*updates)[0].Kind != UpdateAnswer {
		t.Errorf("updates = %+v", *updates)
	}
}

func TestRunTimeoutKeepsRecordedVote(t *testing.T) {
	b := stallingBackend{chunks: []*models.StreamChunk{
		models.ToolCallsChunk(toolCall("c1", "vote", map[string]any{"agent_id": "b", "reason": "good"})),
	}}
	r, _, _ := newTestRunner(t, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result := r.Run(ctx, "task")
	if result.Outcome != OutcomeVoted || result.VoteTarget != "b" || result.VoteReason != "good" {
		t.Fatalf("recorded vote lost at cancellation: %+v", result)
	}
}

func TestAssemblePromptDeterministicOrder(t *testing.T) {
	sections := []Section{
		{Name: "task", Priority: PriorityTask, Content: "do it"},
		{Name: "identity", Priority: PriorityIdentity, Content: "you are a"},
		{Name: "empty", Priority: PrioritySkills, Content: "   "},
		{Name: "coordination", Priority: PriorityCoordination, Content: "coordinate"},
	}
	got := AssemblePrompt(sections)
	want := "you are a\n\ncoordinate\n\ndo it"
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
	if got != AssemblePrompt(sections) {
		t.Error("assembly not deterministic")
	}
}

func TestPresentStreamsAndReturnsText(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{{
		models.ContentChunk("final "),
		models.ContentChunk("answer"),
		models.DoneChunk(),
	}}}
	r, _, display := newTestRunner(t, b, nil)

	text, err := r.Present(context.Background(), "task", "candidate")
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	if text != "final answer" {
		t.Errorf("text = %q", text)
	}

	if req := b.requests[0]; len(req.Tools) != 0 {
		t.Error("presentation round offered tools")
	}
	if len(drain(display)) == 0 {
		t.Error("presentation output not streamed to sink")
	}
}

func TestPresentFallsBackToRecordedAnswer(t *testing.T) {
	b := &scriptedBackend{scripts: [][]*models.StreamChunk{{
		models.DoneChunk(),
	}}}
	r, _, _ := newTestRunner(t, b, nil)

	text, err := r.Present(context.Background(), "task", "candidate")
	if err != nil {
		t.Fatal(err)
	}
	if text != "candidate" {
		t.Errorf("text = %q", text)
	}
}
