package relay

import (
	"errors"
	"sync"

	"memchat/internal/trace"
)

var ErrClosed = errors.New("relay queue closed")

// Queue 将工具回调中产生的事件桥接到编排器的出站事件流（FIFO）。
// Queue bridges events produced inside tool-execution callbacks into the
// orchestrator's outward event stream, preserving FIFO order. Enqueue is
// non-blocking and callable from any callback context; Drain is a
// non-blocking read performed by the orchestrator at its checkpoints. No
// backpressure: the queue lives for a single in-flight turn and is replaced
// on session reset.
type Queue struct {
	mu     sync.Mutex
	items  []trace.ToolCallEnvelope
	closed bool
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(item trace.ToolCallEnvelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	return nil
}

// Drain removes and returns all currently queued items in FIFO order. An
// empty queue drains to nil without blocking.
func (q *Queue) Drain() []trace.ToolCallEnvelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Close stops accepting new items. Already-queued items remain drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
