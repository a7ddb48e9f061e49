package stream

import (
	"context"
	"testing"

	"github.com/massgen/massgen/pkg/models"
)

func TestTaggedSinkStampsAgentID(t *testing.T) {
	var got []*models.StreamChunk
	sink := Tagged(NewCallbackSink(func(_ context.Context, c *models.StreamChunk) {
		got = append(got, c)
	}), "agent-a")

	original := models.ContentChunk("hi")
	sink.Emit(context.Background(), original)

	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0].AgentID != "agent-a" {
		t.Errorf("AgentID = %q, want agent-a", got[0].AgentID)
	}
	if original.AgentID != "" {
		t.Error("original chunk was mutated")
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	count := func(n *int) Sink {
		return NewCallbackSink(func(_ context.Context, _ *models.StreamChunk) { *n++ })
	}
	var a, b int
	sink := NewMultiSink(count(&a), nil, count(&b))

	sink.Emit(context.Background(), models.ContentChunk("x"))
	sink.Emit(context.Background(), models.DoneChunk())

	if a != 2 || b != 2 {
		t.Errorf("fan-out counts = %d, %d, want 2, 2", a, b)
	}
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	ch := make(chan *models.StreamChunk, 1)
	sink := NewChanSink(ch)

	sink.Emit(context.Background(), models.ContentChunk("first"))
	sink.Emit(context.Background(), models.ContentChunk("overflow"))

	if len(ch) != 1 {
		t.Fatalf("channel length = %d, want 1", len(ch))
	}
	if c := <-ch; c.Text != "first" {
		t.Errorf("kept chunk = %q, want first", c.Text)
	}
}
