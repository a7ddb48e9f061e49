// Package display renders the coordination run for a terminal: tagged
// stream chunks become interleaved per-agent output, and tracker events
// become a one-line activity feed.
package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/massgen/massgen/internal/stream"
	"github.com/massgen/massgen/internal/tracker"
	"github.com/massgen/massgen/pkg/models"
)

// Terminal writes a live rendering of the run to a single writer.
// Concurrent agents interleave at chunk granularity; each switch of
// source agent starts a new labelled line.
type Terminal struct {
	mu         sync.Mutex
	w          io.Writer
	lastAgent  string
	atLineHead bool
	// ShowReasoning includes chain-of-thought chunks in the output.
	ShowReasoning bool
}

// NewTerminal creates a display writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w, atLineHead: true}
}

// Sink returns a stream sink feeding this display.
func (d *Terminal) Sink() stream.Sink {
	return stream.NewCallbackSink(func(_ context.Context, chunk *models.StreamChunk) {
		d.handleChunk(chunk)
	})
}

// Subscriber returns a tracker subscriber feeding the activity feed.
func (d *Terminal) Subscriber() tracker.Subscriber {
	return func(event tracker.Event) {
		if line := describeEvent(event); line != "" {
			d.writeLine("* " + line)
		}
	}
}

func (d *Terminal) handleChunk(chunk *models.StreamChunk) {
	if chunk == nil {
		return
	}
	switch chunk.Type {
	case models.ChunkContent:
		d.writeText(chunk.AgentID, chunk.Text)
	case models.ChunkReasoning:
		if d.ShowReasoning {
			d.writeText(chunk.AgentID, chunk.Text)
		}
	case models.ChunkToolCalls:
		for _, call := range chunk.ToolCalls {
			d.writeLine(fmt.Sprintf("[%s] -> %s", chunk.AgentID, call.Name))
		}
	case models.ChunkToolResult:
		if chunk.ToolResult != nil && chunk.ToolResult.IsError {
			d.writeLine(fmt.Sprintf("[%s] tool error: %s",
				chunk.AgentID, firstLine(chunk.ToolResult.Content)))
		}
	case models.ChunkStatus:
		d.writeLine(fmt.Sprintf("[%s] %s", chunk.AgentID, chunk.Status))
	case models.ChunkError:
		d.writeLine(fmt.Sprintf("[%s] error: %s", chunk.AgentID, chunk.ErrorText()))
	}
}

// writeText streams incremental text, labelling the line whenever the
// source agent changes.
func (d *Terminal) writeText(agentID, text string) {
	if text == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if agentID != d.lastAgent || d.atLineHead {
		if !d.atLineHead {
			fmt.Fprintln(d.w)
		}
		fmt.Fprintf(d.w, "[%s] ", agentID)
		d.lastAgent = agentID
	}
	fmt.Fprint(d.w, text)
	d.atLineHead = strings.HasSuffix(text, "\n")
}

func (d *Terminal) writeLine(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.atLineHead {
		fmt.Fprintln(d.w)
	}
	fmt.Fprintln(d.w, line)
	d.atLineHead = true
	d.lastAgent = ""
}

func describeEvent(event tracker.Event) string {
	switch event.Type {
	case tracker.EventNewAnswer:
		return fmt.Sprintf("%s submitted an answer", event.AgentID)
	case tracker.EventVoteCast:
		target, _ := event.Details["target"].(string)
		return fmt.Sprintf("%s voted for %s", event.AgentID, target)
	case tracker.EventRestartCompleted:
		reason, _ := event.Details["reason"].(string)
		if reason != "" {
			return "restart: " + firstLine(reason)
		}
		return "restart"
	case tracker.EventFinalAgentSelected:
		return fmt.Sprintf("winner: %s", event.AgentID)
	case tracker.EventFinalRoundStart:
		return fmt.Sprintf("%s presenting final answer", event.AgentID)
	case tracker.EventFinalAnswer:
		return "final answer recorded"
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
