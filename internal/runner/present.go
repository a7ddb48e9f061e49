package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/internal/stream"
	"github.com/massgen/massgen/pkg/models"
)

const presentationInstructions = `Your candidate answer was selected as the best by the agent group.
Produce the final user-facing answer now. Write it directly, polished and complete.
Do not mention the selection process, the other agents, or the voting.`

// Present re-invokes the agent as the selected winner to produce the
// user-facing answer. The output streams to the sink and the full text
// is returned for persistence. No tools are offered; the model can
// only write the answer.
func (r *Runner) Present(ctx context.Context, task, winningAnswer string) (string, error) {
	system := AssemblePrompt([]Section{
		{Name: "identity", Priority: PriorityIdentity, Content: r.cfg.SystemPrompt},
		{Name: "presentation", Priority: PriorityCoordination, Content: presentationInstructions},
	})

	prompt := fmt.Sprintf("Task:\n%s\n\nYour selected candidate answer:\n%s\n\nWrite the final answer for the user.",
		task, winningAnswer)
	messages := make([]models.Message, 0, len(r.cfg.History)+1)
	messages = append(messages, r.cfg.History...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: prompt})

	chunks, err := r.cfg.Backend.ExecuteStreaming(ctx, backend.Request{
		System:   system,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("start presentation stream: %w", err)
	}

	var text strings.Builder
	var final string
	for chunk := range stream.Guard(ctx, chunks, r.logger) {
		switch chunk.Type {
		case models.ChunkContent:
			text.WriteString(chunk.Text)
			r.emit(chunk)
		case models.ChunkCompleteMessage:
			if chunk.Message != nil {
				final = chunk.Message.Content
			}
		case models.ChunkError:
			if chunk.Err != nil {
				return "", chunk.Err
			}
			return "", errors.New(chunk.ErrText)
		}
	}

	if final == "" {
		final = text.String()
	}
	if strings.TrimSpace(final) == "" {
		// A silent winner still has its recorded answer.
		final = winningAnswer
	}
	r.emit(models.StatusChunk(models.StatusCompleted))
	return final, nil
}
