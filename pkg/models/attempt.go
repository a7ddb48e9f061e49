package models

import "time"

// AttemptMetadata is the durable record of one attempt, persisted as
// the attempt's metadata file. Older tooling parses this by field name;
// the json tags are part of the compatibility surface.
type AttemptMetadata struct {
	SessionID           string    `json:"session_id"`
	TurnNumber          int       `json:"turn_number"`
	AttemptNumber       int       `json:"attempt_number"`
	Task                string    `json:"task"`
	WinningAgentID      string    `json:"winning_agent_id,omitempty"`
	RestartReason       string    `json:"restart_reason,omitempty"`
	RestartInstructions string    `json:"restart_instructions,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// AttemptRecord is a loaded attempt: metadata plus the persisted answer
// and the location of the workspace snapshot (empty if none was saved).
type AttemptRecord struct {
	AttemptMetadata

	AnswerText            string `json:"answer_text"`
	WorkspaceSnapshotPath string `json:"workspace_snapshot_path,omitempty"`

	// Successful is true when this attempt is the turn's marked winner.
	Successful bool `json:"successful,omitempty"`
}

// TurnSummary describes a closed turn when restoring a session.
type TurnSummary struct {
	TurnNumber    int    `json:"turn_number"`
	Task          string `json:"task"`
	WinningAgent  string `json:"winning_agent"`
	Answer        string `json:"answer"`
	WorkspacePath string `json:"workspace_path,omitempty"`
}
