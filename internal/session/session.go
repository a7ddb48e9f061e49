// Package session assigns session identity, restores conversation
// history from attempt storage, and records turn outcomes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/massgen/massgen/internal/storage"
	"github.com/massgen/massgen/pkg/models"
)

// Manager handles session lifecycle over an attempt store.
type Manager struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewManager creates a session manager.
func NewManager(store *storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger.With("component", "session")}
}

// NewSessionID returns a globally unique id that sorts by creation
// time: a UTC timestamp prefix plus a random suffix.
func NewSessionID() string {
	ts := time.Now().UTC().Format("20060102T150405")
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return ts + "-" + suffix
}

// State is a restored session ready for its next turn.
type State struct {
	SessionID string

	// NextTurn is one past the highest closed turn.
	NextTurn int

	// History alternates user task and assistant answer messages for
	// each closed turn, in turn order.
	History []models.Message

	// Winners is the per-turn winner history.
	Winners []string
}

// New starts a fresh session.
func (m *Manager) New() *State {
	return &State{SessionID: NewSessionID(), NextTurn: 1}
}

// Resume rebuilds session state from storage. An unknown session id
// resumes as an empty session with that id.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*State, error) {
	turns, err := m.store.PreviousTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	winners, err := m.store.Winners(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("restore winners for %s: %w", sessionID, err)
	}

	state := &State{SessionID: sessionID, NextTurn: 1, Winners: winners}
	for _, turn := range turns {
		state.History = append(state.History,
			models.Message{Role: models.RoleUser, Content: turn.Task},
			models.Message{Role: models.RoleAssistant, Content: turn.Answer},
		)
		if turn.TurnNumber >= state.NextTurn {
			state.NextTurn = turn.TurnNumber + 1
		}
	}
	m.logger.Info("session resumed",
		"session_id", sessionID, "closed_turns", len(turns), "next_turn", state.NextTurn)
	return state, nil
}

// RecordTurn appends the turn outcome to the session's winner history
// and summary, and advances the in-memory state as if the turn had run
// in a continuous process.
func (m *Manager) RecordTurn(ctx context.Context, state *State, task, winnerID, answer string, attempts int) error {
	if err := m.store.AppendWinner(ctx, state.SessionID, winnerID); err != nil {
		return fmt.Errorf("append winner: %w", err)
	}
	line := fmt.Sprintf("turn %d closed: winner %s after %d attempt(s)", state.NextTurn, winnerID, attempts)
	if err := m.store.AppendSummary(ctx, state.SessionID, line); err != nil {
		m.logger.Warn("summary append failed", "error", err)
	}

	state.History = append(state.History,
		models.Message{Role: models.RoleUser, Content: task},
		models.Message{Role: models.RoleAssistant, Content: answer},
	)
	state.Winners = append(state.Winners, winnerID)
	state.NextTurn++
	return nil
}
