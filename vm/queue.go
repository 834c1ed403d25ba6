package vm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Queue: unbounded blocking FIFO
// ---------------------------------------------------------------------------

type queueNode struct {
	item Value
	next *queueNode
}

// Queue is an unbounded FIFO queue backed by a singly linked list. Adding
// never blocks; consumers block while it is empty.
type Queue struct {
	mu       sync.Mutex
	head     *queueNode
	tail     *queueNode
	size     int
	closed   bool
	notEmpty waitQueue
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends item. It returns false if the queue is closed.
func (q *Queue) Add(item Value) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	n := &queueNode{item: item}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++
	q.notEmpty.signal()
	return true
}

// popLocked unlinks the head node so consumed nodes are not retained.
func (q *Queue) popLocked() Value {
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	n.next = nil
	q.size--
	return n.item
}

// Take removes the oldest item, blocking while the queue is empty. Once the
// queue is closed and drained it returns ErrQueueClosed.
func (q *Queue) Take(ctx context.Context) (Value, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == nil && !q.closed {
		if err := q.notEmpty.wait(ctx, &q.mu, -1); err != nil {
			return nil, err
		}
	}
	if q.head == nil {
		return nil, ErrQueueClosed
	}
	return q.popLocked(), nil
}

// Poll removes the oldest item if there is one, without blocking.
func (q *Queue) Poll() (Value, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return nil, false
	}
	return q.popLocked(), true
}

// PollTimeout waits up to timeout for an item. It reports false when the
// timeout elapses or the queue is closed and drained.
func (q *Queue) PollTimeout(ctx context.Context, timeout time.Duration) (Value, bool, error) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == nil && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false, nil
		}
		err := q.notEmpty.wait(ctx, &q.mu, remaining)
		if errors.Is(err, errWaitTimeout) {
			break
		}
		if err != nil {
			return nil, false, err
		}
	}
	if q.head == nil {
		return nil, false, nil
	}
	return q.popLocked(), true, nil
}

// Close closes the queue and wakes every waiting consumer. Closing twice is
// a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.broadcast()
}

// IsClosed reports whether the queue was closed.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// NumWaiting returns the number of blocked consumers.
func (q *Queue) NumWaiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notEmpty.len()
}

// Clear discards every queued item.
func (q *Queue) Clear() {
	q.Drain()
}

// Drain removes and returns every queued item in order.
func (q *Queue) Drain() []Value {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Value, 0, q.size)
	for q.head != nil {
		out = append(out, q.popLocked())
	}
	return out
}
