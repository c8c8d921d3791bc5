package relay

import (
	"errors"
	"strconv"
	"testing"

	"memchat/internal/trace"
)

func env(cmd string) trace.ToolCallEnvelope {
	return trace.ToolCallEnvelope{Type: "tool_call", Data: trace.ToolCallData{Tool: "memory", Command: cmd}}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(env("op" + strconv.Itoa(i))); err != nil {
			t.Fatal(err)
		}
	}
	got := q.Drain()
	if len(got) != 5 {
		t.Fatalf("drained %d, want 5", len(got))
	}
	for i, item := range got {
		if want := "op" + strconv.Itoa(i); item.Data.Command != want {
			t.Fatalf("item %d command=%q, want %q", i, item.Data.Command, want)
		}
	}
}

func TestQueueEmptyDrain(t *testing.T) {
	q := NewQueue()
	if got := q.Drain(); got != nil {
		t.Fatalf("empty drain=%v, want nil", got)
	}
	// Repeated drains stay empty and never block.
	_ = q.Drain()
	if got := q.Drain(); got != nil {
		t.Fatalf("repeat drain=%v, want nil", got)
	}
}

func TestQueueDrainRemovesItems(t *testing.T) {
	q := NewQueue()
	_ = q.Enqueue(env("a"))
	first := q.Drain()
	if len(first) != 1 {
		t.Fatalf("first drain=%d items", len(first))
	}
	if second := q.Drain(); second != nil {
		t.Fatalf("second drain=%v, want nil", second)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	_ = q.Enqueue(env("before"))
	q.Close()
	if err := q.Enqueue(env("after")); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after close err=%v, want ErrClosed", err)
	}
	got := q.Drain()
	if len(got) != 1 || got[0].Data.Command != "before" {
		t.Fatalf("queued items lost on close: %v", got)
	}
}
