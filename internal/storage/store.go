// Package storage persists per-turn attempts: workspace snapshots,
// answers, and metadata, laid out as
//
//	sessions/<session_id>/
//	  turn_<N>/
//	    attempt_<M>/
//	      metadata
//	      answer
//	      workspace/
//	    successful_attempt
//	  winning_agents_history
//	  SESSION_SUMMARY
//
// The layout is a compatibility surface: external tooling parses the
// metadata, answer, and workspace entries by name.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/massgen/massgen/internal/backoff"
	"github.com/massgen/massgen/pkg/models"
)

const (
	sessionsDirName      = "sessions"
	metadataFileName     = "metadata"
	answerFileName       = "answer"
	workspaceDirName     = "workspace"
	successfulFileName   = "successful_attempt"
	winnersFileName      = "winning_agents_history"
	summaryFileName      = "SESSION_SUMMARY"
	turnPrefix           = "turn_"
	attemptPrefix        = "attempt_"
	tmpPrefix            = ".tmp-"
)

// ErrWinnerConflict is returned when a turn already has a different
// attempt marked successful. Turns are single-winner.
var ErrWinnerConflict = errors.New("turn already has a different successful attempt")

// SaveRequest describes one attempt to persist.
type SaveRequest struct {
	SessionID           string
	Turn                int
	Attempt             int
	Task                string
	Answer              string
	WinningAgentID      string
	RestartReason       string
	RestartInstructions string

	// WorkspaceDir, when non-empty, is deep-copied into the attempt's
	// workspace/ entry. When empty only metadata and answer persist.
	WorkspaceDir string
}

// Store reads and writes attempts under one or more base directories.
// Attempts are merged across bases on read; writes go to the base that
// holds the session's turn_1 (see writeBase).
type Store struct {
	bases  []string
	logger *slog.Logger
	retry  backoff.Policy
}

// NewStore creates a store over the given base directories. The first
// base is the default location for brand-new sessions.
func NewStore(bases []string, logger *slog.Logger) (*Store, error) {
	if len(bases) == 0 {
		return nil, errors.New("at least one base directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{bases: bases, logger: logger, retry: backoff.DefaultPolicy()}, nil
}

// SaveAttempt persists one attempt atomically: the attempt directory is
// assembled under a temporary name and renamed into place, so a crash
// mid-write never leaves a partially observable attempt. Writes are
// retried with bounded backoff. Returns the final attempt directory.
func (s *Store) SaveAttempt(ctx context.Context, req SaveRequest) (string, error) {
	if req.SessionID == "" {
		return "", errors.New("session id is required")
	}
	if req.Turn < 1 || req.Attempt < 1 {
		return "", fmt.Errorf("turn and attempt must be >= 1 (got turn=%d attempt=%d)", req.Turn, req.Attempt)
	}

	base, err := s.writeBase(req.SessionID)
	if err != nil {
		return "", err
	}
	turnDir := filepath.Join(base, sessionsDirName, req.SessionID, turnName(req.Turn))
	finalDir := filepath.Join(turnDir, attemptName(req.Attempt))

	err = backoff.Retry(ctx, s.retry, func() error {
		return s.writeAttemptDir(turnDir, finalDir, req)
	})
	if err != nil {
		return "", fmt.Errorf("save attempt %s/turn_%d/attempt_%d: %w", req.SessionID, req.Turn, req.Attempt, err)
	}
	return finalDir, nil
}

// writeAttemptDir assembles and commits one attempt directory.
func (s *Store) writeAttemptDir(turnDir, finalDir string, req SaveRequest) error {
	if err := os.MkdirAll(turnDir, 0o755); err != nil {
		return err
	}

	tmpDir := filepath.Join(turnDir, tmpPrefix+attemptName(req.Attempt)+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.RemoveAll(tmpDir)
		}
	}()

	meta := models.AttemptMetadata{
		SessionID:           req.SessionID,
		TurnNumber:          req.Turn,
		AttemptNumber:       req.Attempt,
		Task:                req.Task,
		WinningAgentID:      req.WinningAgentID,
		RestartReason:       req.RestartReason,
		RestartInstructions: req.RestartInstructions,
		Timestamp:           time.Now().UTC(),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, metadataFileName), metaBytes, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, answerFileName), []byte(req.Answer), 0o644); err != nil {
		return err
	}
	if req.WorkspaceDir != "" {
		if err := copyTree(req.WorkspaceDir, filepath.Join(tmpDir, workspaceDirName)); err != nil {
			return fmt.Errorf("snapshot workspace: %w", err)
		}
	}

	// Re-saving the same attempt replaces it wholesale.
	if err := os.RemoveAll(finalDir); err != nil {
		return err
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// MarkSuccessful records the turn's winning attempt. Idempotent for
// the same attempt; marking a different attempt for an already-marked
// turn returns ErrWinnerConflict.
func (s *Store) MarkSuccessful(ctx context.Context, sessionID string, turn, attempt int) error {
	base, err := s.writeBase(sessionID)
	if err != nil {
		return err
	}
	turnDir := filepath.Join(base, sessionsDirName, sessionID, turnName(turn))
	marker := filepath.Join(turnDir, successfulFileName)

	if existing, ok := readSuccessfulMarker(marker); ok {
		if existing == attempt {
			return nil
		}
		return fmt.Errorf("%w: turn %d already marked attempt %d, refusing attempt %d",
			ErrWinnerConflict, turn, existing, attempt)
	}

	return backoff.Retry(ctx, s.retry, func() error {
		return os.WriteFile(marker, []byte(attemptName(attempt)+"\n"), 0o644)
	})
}

// LoadAttempts returns attempts for the session in (turn asc, attempt
// asc) order, merged across base directories. turn > 0 restricts to a
// single turn. Unknown sessions yield an empty slice, never an error.
func (s *Store) LoadAttempts(ctx context.Context, sessionID string, turn int) ([]models.AttemptRecord, error) {
	type key struct{ turn, attempt int }
	seen := map[key]bool{}
	var records []models.AttemptRecord

	for _, base := range s.bases {
		sessionDir := filepath.Join(base, sessionsDirName, sessionID)
		turnDirs, err := os.ReadDir(sessionDir)
		if err != nil {
			continue
		}
		for _, td := range turnDirs {
			turnNum, ok := parseNumbered(td.Name(), turnPrefix)
			if !ok || (turn > 0 && turnNum != turn) {
				continue
			}
			turnPath := filepath.Join(sessionDir, td.Name())
			winner, hasWinner := readSuccessfulMarker(filepath.Join(turnPath, successfulFileName))

			attemptDirs, err := os.ReadDir(turnPath)
			if err != nil {
				continue
			}
			for _, ad := range attemptDirs {
				attemptNum, ok := parseNumbered(ad.Name(), attemptPrefix)
				if !ok {
					continue
				}
				k := key{turnNum, attemptNum}
				if seen[k] {
					continue
				}
				record, err := readAttempt(filepath.Join(turnPath, ad.Name()))
				if err != nil {
					s.logger.Warn("skipping unreadable attempt",
						"session", sessionID, "turn", turnNum, "attempt", attemptNum, "error", err)
					continue
				}
				record.Successful = hasWinner && winner == attemptNum
				seen[k] = true
				records = append(records, record)
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].TurnNumber != records[j].TurnNumber {
			return records[i].TurnNumber < records[j].TurnNumber
		}
		return records[i].AttemptNumber < records[j].AttemptNumber
	})
	return records, nil
}

// PreviousTurns returns, for each closed turn in order, the summary of
// its successful attempt. A turn with attempts but no marked winner
// contributes its latest attempt with a warning.
func (s *Store) PreviousTurns(ctx context.Context, sessionID string) ([]models.TurnSummary, error) {
	records, err := s.LoadAttempts(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	byTurn := map[int][]models.AttemptRecord{}
	var turns []int
	for _, r := range records {
		if _, ok := byTurn[r.TurnNumber]; !ok {
			turns = append(turns, r.TurnNumber)
		}
		byTurn[r.TurnNumber] = append(byTurn[r.TurnNumber], r)
	}
	sort.Ints(turns)

	var summaries []models.TurnSummary
	for _, turn := range turns {
		attempts := byTurn[turn]
		var chosen *models.AttemptRecord
		for i := range attempts {
			if attempts[i].Successful {
				chosen = &attempts[i]
				break
			}
		}
		if chosen == nil {
			chosen = &attempts[len(attempts)-1]
			s.logger.Warn("turn has no successful attempt, using latest",
				"session", sessionID, "turn", turn, "attempt", chosen.AttemptNumber)
		}
		summaries = append(summaries, models.TurnSummary{
			TurnNumber:    turn,
			Task:          chosen.Task,
			WinningAgent:  chosen.WinningAgentID,
			Answer:        chosen.AnswerText,
			WorkspacePath: chosen.WorkspaceSnapshotPath,
		})
	}
	return summaries, nil
}

// PreviousAttemptsContext returns the attempts that preceded
// currentAttempt within the same turn, used to brief agents after a
// restart.
func (s *Store) PreviousAttemptsContext(ctx context.Context, sessionID string, turn, currentAttempt int) ([]models.AttemptRecord, error) {
	records, err := s.LoadAttempts(ctx, sessionID, turn)
	if err != nil {
		return nil, err
	}
	var prior []models.AttemptRecord
	for _, r := range records {
		if r.AttemptNumber < currentAttempt {
			prior = append(prior, r)
		}
	}
	return prior, nil
}

// AppendWinner appends an agent id to the session's
// winning_agents_history, one id per line, indexed by turn.
func (s *Store) AppendWinner(ctx context.Context, sessionID, agentID string) error {
	base, err := s.writeBase(sessionID)
	if err != nil {
		return err
	}
	sessionDir := filepath.Join(base, sessionsDirName, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return err
	}
	return appendLine(filepath.Join(sessionDir, winnersFileName), agentID)
}

// Winners returns the session's winner history in turn order.
func (s *Store) Winners(ctx context.Context, sessionID string) ([]string, error) {
	for _, base := range s.bases {
		data, err := os.ReadFile(filepath.Join(base, sessionsDirName, sessionID, winnersFileName))
		if err != nil {
			continue
		}
		var winners []string
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				winners = append(winners, line)
			}
		}
		return winners, nil
	}
	return nil, nil
}

// Sessions lists all known session ids, merged across bases, sorted.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, base := range s.bases {
		entries, err := os.ReadDir(filepath.Join(base, sessionsDirName))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), tmpPrefix) {
				seen[e.Name()] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendSummary appends one line to the session's human-readable log.
func (s *Store) AppendSummary(ctx context.Context, sessionID, line string) error {
	base, err := s.writeBase(sessionID)
	if err != nil {
		return err
	}
	sessionDir := filepath.Join(base, sessionsDirName, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	return appendLine(filepath.Join(sessionDir, summaryFileName), stamp+" "+line)
}

// writeBase picks the base directory new writes for a session go to:
// the base holding turn_1, else the base with the highest turn (with a
// warning), else the first base.
func (s *Store) writeBase(sessionID string) (string, error) {
	bestBase := ""
	bestTurn := 0
	for _, base := range s.bases {
		sessionDir := filepath.Join(base, sessionsDirName, sessionID)
		entries, err := os.ReadDir(sessionDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			turn, ok := parseNumbered(e.Name(), turnPrefix)
			if !ok {
				continue
			}
			if turn == 1 {
				return base, nil
			}
			if turn > bestTurn {
				bestTurn = turn
				bestBase = base
			}
		}
	}
	if bestBase != "" {
		s.logger.Warn("session has no turn_1 in any base, writing to highest-turn base",
			"session", sessionID, "base", bestBase, "highest_turn", bestTurn)
		return bestBase, nil
	}
	return s.bases[0], nil
}

// readAttempt loads one attempt directory.
func readAttempt(dir string) (models.AttemptRecord, error) {
	var record models.AttemptRecord

	metaBytes, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		return record, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(metaBytes, &record.AttemptMetadata); err != nil {
		return record, fmt.Errorf("decode metadata: %w", err)
	}

	answerBytes, err := os.ReadFile(filepath.Join(dir, answerFileName))
	if err == nil {
		record.AnswerText = string(answerBytes)
	}

	workspace := filepath.Join(dir, workspaceDirName)
	if info, err := os.Stat(workspace); err == nil && info.IsDir() {
		record.WorkspaceSnapshotPath = workspace
	}
	return record, nil
}

// readSuccessfulMarker parses a successful_attempt file, accepting
// either "attempt_<M>" or a bare integer.
func readSuccessfulMarker(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(text, attemptPrefix)
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func parseNumbered(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func turnName(n int) string    { return turnPrefix + strconv.Itoa(n) }
func attemptName(n int) string { return attemptPrefix + strconv.Itoa(n) }

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
