package orchestration

import (
	"context"
	"sync"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// Queue is the bounded FIFO between the planner and the executor pool.
// The capacity bound is the backpressure mechanism: a full queue stalls
// dispatch instead of growing without limit.
type Queue struct {
	ch chan contracts.TaskID

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue with the given capacity (minimum 1).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan contracts.TaskID, capacity)}
}

// TryPush enqueues without blocking. Returns false when the queue is
// full, ErrQueueClosed after Close.
func (q *Queue) TryPush(id contracts.TaskID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, contracts.ErrQueueClosed
	}
	select {
	case q.ch <- id:
		return true, nil
	default:
		return false, nil
	}
}

// Pop blocks until an item is available, the queue is drained and
// closed, or the context is done.
func (q *Queue) Pop(ctx context.Context) (contracts.TaskID, error) {
	select {
	case id, ok := <-q.ch:
		if !ok {
			return "", contracts.ErrQueueClosed
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops intake. Items already queued remain poppable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}
