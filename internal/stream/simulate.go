package stream

import (
	"github.com/massgen/massgen/pkg/models"
)

// simulatedChunkSize is the number of bytes per synthetic content chunk
// when a request/response backend is presented as a stream.
const simulatedChunkSize = 64

// Simulate converts a finalized completion into a well-formed chunk
// sequence: content chunks, tool_calls (if any), a complete_message,
// then done. Used for backends that do not natively stream.
func Simulate(content string, toolCalls []models.ToolCall) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)

	go func() {
		defer close(out)
		for _, piece := range splitContent(content, simulatedChunkSize) {
			out <- models.ContentChunk(piece)
		}
		if len(toolCalls) > 0 {
			out <- models.ToolCallsChunk(toolCalls...)
		}
		out <- models.CompleteMessageChunk(models.RoleAssistant, content, toolCalls)
		out <- models.DoneChunk()
	}()

	return out
}

// splitContent slices text into chunks of at most size bytes without
// splitting UTF-8 sequences.
func splitContent(text string, size int) []string {
	if text == "" {
		return nil
	}
	var pieces []string
	runes := []rune(text)
	var current []rune
	currentLen := 0
	for _, r := range runes {
		rl := len(string(r))
		if currentLen+rl > size && currentLen > 0 {
			pieces = append(pieces, string(current))
			current = current[:0]
			currentLen = 0
		}
		current = append(current, r)
		currentLen += rl
	}
	if currentLen > 0 {
		pieces = append(pieces, string(current))
	}
	return pieces
}
