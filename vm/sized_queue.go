package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// OfferResult is the outcome of a non-blocking SizedQueue.Offer.
type OfferResult uint8

const (
	OfferSuccess OfferResult = iota
	OfferFull
	OfferClosed
)

func (r OfferResult) String() string {
	switch r {
	case OfferSuccess:
		return "success"
	case OfferFull:
		return "full"
	case OfferClosed:
		return "closed"
	}
	return fmt.Sprintf("OfferResult(%d)", uint8(r))
}

// ---------------------------------------------------------------------------
// SizedQueue: bounded blocking FIFO
// ---------------------------------------------------------------------------

// SizedQueue is a bounded FIFO queue backed by a ring buffer. Producers block
// while it is full, consumers while it is empty. Closing is one-way: a closed
// queue accepts nothing but can still be drained.
type SizedQueue struct {
	mu       sync.Mutex
	items    []Value
	head     int
	size     int
	closed   bool
	notFull  waitQueue
	notEmpty waitQueue
}

// NewSizedQueue creates a queue holding at most capacity items.
func NewSizedQueue(capacity int) (*SizedQueue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &SizedQueue{items: make([]Value, capacity)}, nil
}

func (q *SizedQueue) pushLocked(item Value) {
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.notEmpty.signal()
}

func (q *SizedQueue) popLocked() Value {
	item := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.size--
	q.notFull.signal()
	return item
}

// Put appends item, blocking while the queue is full. It returns
// ErrQueueClosed if the queue is closed before the item could be added, and
// an ErrInterrupted error if ctx is done first.
func (q *SizedQueue) Put(ctx context.Context, item Value) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == len(q.items) && !q.closed {
		if err := q.notFull.wait(ctx, &q.mu, -1); err != nil {
			return err
		}
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.pushLocked(item)
	return nil
}

// Offer appends item if there is room, without blocking.
func (q *SizedQueue) Offer(item Value) OfferResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return OfferClosed
	}
	if q.size == len(q.items) {
		return OfferFull
	}
	q.pushLocked(item)
	return OfferSuccess
}

// Take removes the oldest item, blocking while the queue is empty. Once the
// queue is closed and drained it returns ErrQueueClosed.
func (q *SizedQueue) Take(ctx context.Context) (Value, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed {
		if err := q.notEmpty.wait(ctx, &q.mu, -1); err != nil {
			return nil, err
		}
	}
	if q.size == 0 {
		return nil, ErrQueueClosed
	}
	return q.popLocked(), nil
}

// Poll removes the oldest item if there is one, without blocking.
func (q *SizedQueue) Poll() (Value, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

// PollTimeout waits up to timeout for an item. It reports false when the
// timeout elapses or the queue is closed and drained.
func (q *SizedQueue) PollTimeout(ctx context.Context, timeout time.Duration) (Value, bool, error) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed {
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
	if q.size == 0 {
		return nil, false, nil
	}
	return q.popLocked(), true, nil
}

// ChangeCapacity resizes the ring buffer. Capacity cannot go below the number
// of queued items; such a request fails with ErrCapacityBelowSize and leaves
// the queue untouched.
func (q *SizedQueue) ChangeCapacity(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if capacity < q.size {
		return fmt.Errorf("%w: %d < %d", ErrCapacityBelowSize, capacity, q.size)
	}
	items := make([]Value, capacity)
	for i := 0; i < q.size; i++ {
		items[i] = q.items[(q.head+i)%len(q.items)]
	}
	grown := capacity > len(q.items)
	q.items = items
	q.head = 0
	if grown {
		q.notFull.broadcast()
	}
	return nil
}

// Close closes the queue and wakes every waiting producer and consumer.
// Closing twice is a no-op.
func (q *SizedQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notFull.broadcast()
	q.notEmpty.broadcast()
}

// IsClosed reports whether the queue was closed.
func (q *SizedQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Size returns the number of queued items.
func (q *SizedQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the maximum number of items.
func (q *SizedQueue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NumWaiting returns the number of blocked producers and consumers.
func (q *SizedQueue) NumWaiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notFull.len() + q.notEmpty.len()
}

// Clear discards every queued item.
func (q *SizedQueue) Clear() {
	q.Drain()
}

// Drain removes and returns every queued item in order.
func (q *SizedQueue) Drain() []Value {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Value, 0, q.size)
	for i := 0; i < q.size; i++ {
		idx := (q.head + i) % len(q.items)
		out = append(out, q.items[idx])
		q.items[idx] = nil
	}
	q.head = 0
	q.size = 0
	q.notFull.broadcast()
	return out
}
