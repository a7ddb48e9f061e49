package runner

import (
	"encoding/json"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/internal/tools"
)

var newAnswerSpec = backend.ToolSpec{
	Name:        tools.NameNewAnswer,
	Description: "Submit your complete candidate answer for the current task. Replaces any earlier answer or vote.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The full answer text"}
		},
		"required": ["content"]
	}`),
}

var voteSpec = backend.ToolSpec{
	Name:        tools.NameVote,
	Description: "Vote for the agent whose existing answer you consider best. Replaces any earlier answer or vote.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "The agent being voted for"},
			"reason": {"type": "string", "description": "Why this answer is best"}
		},
		"required": ["agent_id"]
	}`),
}

var restartSpec = backend.ToolSpec{
	Name:        tools.NameRestart,
	Description: "Request a fresh attempt for all agents when the current answers are unsalvageable.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"reason": {"type": "string", "description": "Why a restart is needed"},
			"instructions": {"type": "string", "description": "Guidance for the next attempt"}
		},
		"required": ["reason"]
	}`),
}

// toolSpecs assembles the tool set offered to the backend: the fixed
// coordination tools plus the configured task tools.
func (r *Runner) toolSpecs() []backend.ToolSpec {
	specs := []backend.ToolSpec{newAnswerSpec, voteSpec}
	if r.cfg.AllowRestart {
		specs = append(specs, restartSpec)
	}
	if r.cfg.Tools != nil {
		specs = append(specs, r.cfg.Tools.Specs()...)
	}
	return specs
}
