package models

import "time"

// ChunkType identifies the kind of stream chunk.
type ChunkType string

const (
	// ChunkContent carries incremental response text.
	ChunkContent ChunkType = "content"

	// ChunkReasoning carries incremental chain-of-thought text,
	// streamed separately from the main response.
	ChunkReasoning ChunkType = "reasoning"

	// ChunkToolCalls carries one or more tool-call requests.
	ChunkToolCalls ChunkType = "tool_calls"

	// ChunkToolResult carries the outcome of a dispatched tool call.
	ChunkToolResult ChunkType = "tool_result"

	// ChunkCompleteMessage carries a finalized whole message.
	ChunkCompleteMessage ChunkType = "complete_message"

	// ChunkStatus carries a coordination status transition.
	ChunkStatus ChunkType = "status"

	// ChunkError terminates a sequence with a failure.
	ChunkError ChunkType = "error"

	// ChunkDone terminates a sequence successfully.
	ChunkDone ChunkType = "done"
)

// StatusKind is the payload of a status chunk.
type StatusKind string

const (
	StatusAnswering StatusKind = "answering"
	StatusVoted     StatusKind = "voted"
	StatusAnswered  StatusKind = "answered"
	StatusCompleted StatusKind = "completed"
	StatusStreaming StatusKind = "streaming"
)

// StreamChunk is the uniform envelope carried from backends through the
// orchestrator to displays. Exactly one payload group is meaningful for
// a given Type; consumers must treat unknown types as no-ops.
//
// A chunk sequence terminates with exactly one done or error chunk.
// Ordering within a sequence is authoritative.
type StreamChunk struct {
	Type ChunkType `json:"type"`

	// AgentID tags the chunk with its source agent. Set by the runner;
	// backends leave it empty. The orchestrator uses "orchestrator".
	AgentID string `json:"agent_id,omitempty"`

	// Text is the payload for content and reasoning chunks.
	Text string `json:"text,omitempty"`

	// ToolCalls is the payload for tool_calls chunks.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResult is the payload for tool_result chunks.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Message is the payload for complete_message chunks.
	Message *Message `json:"message,omitempty"`

	// Status is the payload for status chunks.
	Status StatusKind `json:"status,omitempty"`

	// Err is the payload for error chunks. Not serialized; ErrText
	// carries the rendered message across process boundaries.
	Err     error  `json:"-"`
	ErrText string `json:"error,omitempty"`
}

// Terminal reports whether the chunk ends its sequence.
func (c *StreamChunk) Terminal() bool {
	return c != nil && (c.Type == ChunkDone || c.Type == ChunkError)
}

// ErrorText returns the error message for an error chunk, preferring
// the live error over the serialized text.
func (c *StreamChunk) ErrorText() string {
	if c == nil {
		return ""
	}
	if c.Err != nil {
		return c.Err.Error()
	}
	return c.ErrText
}

// ContentChunk builds a content chunk.
func ContentChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkContent, Text: text}
}

// ReasoningChunk builds a reasoning chunk.
func ReasoningChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkReasoning, Text: text}
}

// ToolCallsChunk builds a tool_calls chunk.
func ToolCallsChunk(calls ...ToolCall) *StreamChunk {
	return &StreamChunk{Type: ChunkToolCalls, ToolCalls: calls}
}

// ToolResultChunk builds a tool_result chunk.
func ToolResultChunk(callID, output string, isError bool) *StreamChunk {
	return &StreamChunk{Type: ChunkToolResult, ToolResult: &ToolResult{
		ToolCallID: callID,
		Content:    output,
		IsError:    isError,
	}}
}

// StatusChunk builds a status chunk.
func StatusChunk(kind StatusKind) *StreamChunk {
	return &StreamChunk{Type: ChunkStatus, Status: kind}
}

// ErrorChunk builds a terminal error chunk.
func ErrorChunk(err error) *StreamChunk {
	c := &StreamChunk{Type: ChunkError, Err: err}
	if err != nil {
		c.ErrText = err.Error()
	}
	return c
}

// DoneChunk builds the terminal success chunk.
func DoneChunk() *StreamChunk {
	return &StreamChunk{Type: ChunkDone}
}

// CompleteMessageChunk builds a complete_message chunk.
func CompleteMessageChunk(role Role, content string, toolCalls []ToolCall) *StreamChunk {
	return &StreamChunk{Type: ChunkCompleteMessage, Message: &Message{
		Role:      role,
		Content:   content,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}}
}
