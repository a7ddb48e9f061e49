package stream

import (
	"context"
	"log/slog"

	"github.com/massgen/massgen/pkg/models"
)

// Guard wraps a raw backend chunk sequence and enforces the sequence
// law: exactly one terminal chunk (done or error), nothing after it.
//
// Violations are protocol errors, not failures: chunks after the
// terminator are dropped with a warning, and a producer that closes its
// channel without a terminator gets a synthetic done appended so
// downstream consumers always observe a well-formed sequence.
func Guard(ctx context.Context, in <-chan *models.StreamChunk, logger *slog.Logger) <-chan *models.StreamChunk {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(chan *models.StreamChunk, cap(in))

	go func() {
		defer close(out)
		terminated := false
		for {
			select {
			case <-ctx.Done():
				if !terminated {
					out <- models.ErrorChunk(ctx.Err())
				}
				return
			case chunk, ok := <-in:
				if !ok {
					if !terminated {
						logger.Warn("stream closed without terminator, synthesizing done")
						out <- models.DoneChunk()
					}
					return
				}
				if chunk == nil {
					continue
				}
				if terminated {
					logger.Warn("chunk received after terminator, dropping",
						"chunk_type", string(chunk.Type))
					continue
				}
				if chunk.Terminal() {
					terminated = true
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
