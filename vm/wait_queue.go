package vm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errWaitTimeout is returned by waitQueue.wait when the timeout elapsed.
var errWaitTimeout = errors.New("wait timed out")

// waiter is one parked goroutine. signaled is guarded by the lock of the
// owning waitQueue.
type waiter struct {
	ch       chan struct{}
	signaled bool
}

// waitQueue is a condition variable whose waits can be interrupted through a
// context. sync.Cond cannot be woken by cancellation, so each waiter parks on
// its own channel. All methods must be called with the owner's lock held,
// except await which must be called without it.
type waitQueue struct {
	waiters []*waiter
}

func (q *waitQueue) enqueue() *waiter {
	w := &waiter{ch: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	return w
}

// await blocks until w is signaled, ctx is done or the timeout elapses.
// A negative timeout waits forever.
func (q *waitQueue) await(ctx context.Context, w *waiter, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return interrupted(ctx)
	case <-expired:
		return errWaitTimeout
	}
}

// settle resolves the outcome of await once the lock is held again. A signal
// that arrived together with a timeout counts as a wakeup. A signal that
// arrived together with an interruption is handed to the next waiter so it
// is not lost.
func (q *waitQueue) settle(w *waiter, err error) error {
	if err == nil {
		return nil
	}
	if w.signaled {
		if errors.Is(err, errWaitTimeout) {
			return nil
		}
		q.signal()
		return err
	}
	q.remove(w)
	return err
}

// wait releases mu, parks, and reacquires mu before returning.
func (q *waitQueue) wait(ctx context.Context, mu sync.Locker, timeout time.Duration) error {
	w := q.enqueue()
	mu.Unlock()
	err := q.await(ctx, w, timeout)
	mu.Lock()
	return q.settle(w, err)
}

func (q *waitQueue) remove(w *waiter) {
	for i, x := range q.waiters {
		if x == w {
			copy(q.waiters[i:], q.waiters[i+1:])
			q.waiters[len(q.waiters)-1] = nil
			q.waiters = q.waiters[:len(q.waiters)-1]
			return
		}
	}
}

// signal wakes the longest waiting goroutine.
func (q *waitQueue) signal() {
	if len(q.waiters) == 0 {
		return
	}
	w := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	w.signaled = true
	close(w.ch)
}

// broadcast wakes every waiter.
func (q *waitQueue) broadcast() {
	for _, w := range q.waiters {
		w.signaled = true
		close(w.ch)
	}
	q.waiters = nil
}

func (q *waitQueue) len() int { return len(q.waiters) }
