package vm

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestQueueAddTake(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	for i := 1; i <= 3; i++ {
		if !q.Add(i) {
			t.Fatalf("Expected Add(%d) to succeed", i)
		}
	}
	if q.Size() != 3 {
		t.Errorf("Expected size 3, got %d", q.Size())
	}
	for i := 1; i <= 3; i++ {
		if v, err := q.Take(ctx); err != nil || v != i {
			t.Errorf("Expected %d, got %v/%v", i, v, err)
		}
	}
	if _, ok := q.Poll(); ok {
		t.Error("Expected Poll on an empty queue to fail")
	}
}

func TestQueueNodesUnlinked(t *testing.T) {
	q := NewQueue()
	q.Add(1)
	q.Add(2)
	first := q.head
	q.Poll()
	if first.next != nil {
		t.Error("Expected the removed node to be unlinked")
	}
	q.Poll()
	if q.head != nil || q.tail != nil {
		t.Error("Expected head and tail to be cleared")
	}
	q.Add(3)
	if v, _ := q.Poll(); v != 3 {
		t.Errorf("Expected 3, got %v", v)
	}
}

func TestQueueTakeBlocksUntilAdd(t *testing.T) {
	q := NewQueue()
	result := make(chan Value, 1)
	go func() {
		v, _ := q.Take(context.Background())
		result <- v
	}()
	waitUntil(t, "consumer to block", func() bool { return q.NumWaiting() == 1 })
	q.Add("x")
	if v := <-result; v != "x" {
		t.Errorf("Expected x, got %v", v)
	}
}

func TestQueueClose(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	q.Add(1)
	q.Add(2)

	errs := make(chan error, 2)
	empty := NewQueue()
	for i := 0; i < 2; i++ {
		go func() {
			_, err := empty.Take(ctx)
			errs <- err
		}()
	}
	waitUntil(t, "consumers to block", func() bool { return empty.NumWaiting() == 2 })
	empty.Close()
	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Expected ErrQueueClosed, got %v", err)
		}
	}

	q.Close()
	if q.Add(3) {
		t.Error("Expected Add on a closed queue to fail")
	}
	if !q.IsClosed() {
		t.Error("Expected queue to be closed")
	}
	if got := q.Drain(); !reflect.DeepEqual(got, []Value{1, 2}) {
		t.Errorf("Expected [1 2], got %v", got)
	}
	if _, err := q.Take(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestQueuePollTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	if _, ok, err := q.PollTimeout(ctx, 10*time.Millisecond); ok || err != nil {
		t.Errorf("Expected timeout, got %v/%v", ok, err)
	}
	q.Add("a")
	if v, ok, _ := q.PollTimeout(ctx, time.Second); !ok || v != "a" {
		t.Errorf("Expected a, got %v/%v", v, ok)
	}
}

func TestQueueKillInterruptsTake(t *testing.T) {
	q := NewQueue()
	th := Go(context.Background(), "waiter", func(t *Thread) (Value, error) {
		return q.Take(t.Context())
	})
	waitUntil(t, "consumer to block", func() bool { return q.NumWaiting() == 1 })
	th.Kill()
	if _, err := th.Join(context.Background()); !errors.Is(err, ErrThreadKilled) {
		t.Errorf("Expected ErrThreadKilled, got %v", err)
	}
	if q.NumWaiting() != 0 {
		t.Errorf("Expected no waiters, got %d", q.NumWaiting())
	}
}

// A signal that races with an interruption is handed to the next waiter.
func TestWaitQueueSettle(t *testing.T) {
	var q waitQueue
	w1 := q.enqueue()
	w2 := q.enqueue()
	w3 := q.enqueue()

	q.signal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.settle(w1, interrupted(ctx)); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Expected the interruption to propagate, got %v", err)
	}
	if !w2.signaled {
		t.Error("Expected the signal to pass to the next waiter")
	}
	select {
	case <-w2.ch:
	default:
		t.Error("Expected the next waiter's channel to be closed")
	}

	// A signal that arrives together with a timeout is a wakeup.
	if err := q.settle(w2, errWaitTimeout); err != nil {
		t.Errorf("Expected a signaled timeout to count as a wakeup, got %v", err)
	}

	// An unsignaled waiter is removed.
	if err := q.settle(w3, errWaitTimeout); !errors.Is(err, errWaitTimeout) {
		t.Errorf("Expected errWaitTimeout, got %v", err)
	}
	if q.len() != 0 {
		t.Errorf("Expected no waiters, got %d", q.len())
	}
}
