// Package stream defines the chunk transport between backends, the
// orchestrator, and displays: sinks for fan-out, a sequence guard that
// enforces the single-terminator law, and simulated streaming for
// request/response backends.
package stream

import (
	"context"

	"github.com/massgen/massgen/pkg/models"
)

// Sink receives stream chunks during coordination.
// Implementations must be safe to call from multiple goroutines and
// should be non-blocking or handle backpressure gracefully.
type Sink interface {
	Emit(ctx context.Context, chunk *models.StreamChunk)
}

// ChanSink sends chunks to a channel, dropping when the channel is full
// rather than blocking a runner.
type ChanSink struct {
	ch chan<- *models.StreamChunk
}

// NewChanSink creates a sink backed by a channel. The channel should be
// buffered.
func NewChanSink(ch chan<- *models.StreamChunk) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends the chunk to the channel, non-blocking if full or the
// context is cancelled.
func (s *ChanSink) Emit(ctx context.Context, chunk *models.StreamChunk) {
	select {
	case s.ch <- chunk:
	case <-ctx.Done():
	default:
		// Channel full - drop rather than block.
	}
}

// MultiSink fans a chunk out to multiple sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink. Nil sinks are filtered out.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches the chunk to all sinks.
func (s *MultiSink) Emit(ctx context.Context, chunk *models.StreamChunk) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, chunk)
	}
}

// CallbackSink wraps a function as a Sink.
type CallbackSink struct {
	fn func(ctx context.Context, chunk *models.StreamChunk)
}

// NewCallbackSink creates a sink that calls fn for each chunk.
func NewCallbackSink(fn func(ctx context.Context, chunk *models.StreamChunk)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit invokes the wrapped function.
func (s *CallbackSink) Emit(ctx context.Context, chunk *models.StreamChunk) {
	if s.fn != nil {
		s.fn(ctx, chunk)
	}
}

// Tagged returns a sink that stamps every chunk with the given agent ID
// before forwarding. The chunk is shallow-copied so concurrent
// consumers never observe a mutated AgentID.
func Tagged(next Sink, agentID string) Sink {
	return NewCallbackSink(func(ctx context.Context, chunk *models.StreamChunk) {
		if chunk == nil {
			return
		}
		tagged := *chunk
		tagged.AgentID = agentID
		next.Emit(ctx, &tagged)
	})
}
