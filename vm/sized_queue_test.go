package vm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

// waitUntil polls cond until it holds or the test times out.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustSizedQueue(t *testing.T, capacity int) *SizedQueue {
	t.Helper()
	q, err := NewSizedQueue(capacity)
	if err != nil {
		t.Fatalf("NewSizedQueue(%d) failed: %v", capacity, err)
	}
	return q
}

func TestSizedQueueInvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := NewSizedQueue(c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("Expected ErrInvalidCapacity for %d, got %v", c, err)
		}
	}
}

func TestSizedQueueScenario(t *testing.T) {
	ctx := context.Background()
	q := mustSizedQueue(t, 2)

	if r := q.Offer(1); r != OfferSuccess {
		t.Errorf("Expected success, got %v", r)
	}
	if r := q.Offer(2); r != OfferSuccess {
		t.Errorf("Expected success, got %v", r)
	}
	if r := q.Offer(3); r != OfferFull {
		t.Errorf("Expected full, got %v", r)
	}
	if v, _ := q.Take(ctx); v != 1 {
		t.Errorf("Expected 1, got %v", v)
	}
	if r := q.Offer(3); r != OfferSuccess {
		t.Errorf("Expected success, got %v", r)
	}
	if v, _ := q.Take(ctx); v != 2 {
		t.Errorf("Expected 2, got %v", v)
	}
	if v, _ := q.Take(ctx); v != 3 {
		t.Errorf("Expected 3, got %v", v)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx)
		errc <- err
	}()
	waitUntil(t, "consumer to block", func() bool { return q.NumWaiting() == 1 })
	select {
	case err := <-errc:
		t.Fatalf("Expected Take to block, returned %v", err)
	default:
	}

	q.Close()
	if err := <-errc; !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestSizedQueueFIFO(t *testing.T) {
	ctx := context.Background()
	for _, capacity := range []int{1, 2, 3, 7, 64} {
		for _, n := range []int{0, 1, 10, 100} {
			t.Run(fmt.Sprintf("cap%d_n%d", capacity, n), func(t *testing.T) {
				q := mustSizedQueue(t, capacity)
				errc := make(chan error, 1)
				go func() {
					for i := 1; i <= n; i++ {
						if err := q.Put(ctx, i); err != nil {
							errc <- err
							return
						}
					}
					errc <- nil
				}()
				for i := 1; i <= n; i++ {
					v, err := q.Take(ctx)
					if err != nil {
						t.Fatalf("Take failed: %v", err)
					}
					if v != i {
						t.Fatalf("Expected %d, got %v", i, v)
					}
				}
				if err := <-errc; err != nil {
					t.Errorf("Put failed: %v", err)
				}
				if q.Size() != 0 {
					t.Errorf("Expected empty queue, got %d", q.Size())
				}
			})
		}
	}
}

func TestSizedQueuePutBlocksWhileFull(t *testing.T) {
	ctx := context.Background()
	q := mustSizedQueue(t, 1)
	if err := q.Put(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, "b") }()
	waitUntil(t, "producer to block", func() bool { return q.NumWaiting() == 1 })

	select {
	case <-done:
		t.Fatal("Expected Put to block on a full queue")
	case <-time.After(20 * time.Millisecond):
	}
	if r := q.Offer("c"); r != OfferFull {
		t.Errorf("Expected full, got %v", r)
	}

	if v, _ := q.Poll(); v != "a" {
		t.Errorf("Expected a, got %v", v)
	}
	if err := <-done; err != nil {
		t.Errorf("Expected Put to succeed, got %v", err)
	}
	if v, _ := q.Poll(); v != "b" {
		t.Errorf("Expected b, got %v", v)
	}
}

func TestSizedQueueCloseDrains(t *testing.T) {
	ctx := context.Background()
	q := mustSizedQueue(t, 4)
	q.Offer(1)
	q.Offer(2)
	q.Close()
	q.Close()

	if !q.IsClosed() {
		t.Error("Expected queue to be closed")
	}
	if r := q.Offer(3); r != OfferClosed {
		t.Errorf("Expected closed, got %v", r)
	}
	if err := q.Put(ctx, 3); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed from Put, got %v", err)
	}
	for _, want := range []int{1, 2} {
		if v, err := q.Take(ctx); err != nil || v != want {
			t.Errorf("Expected %d, got %v/%v", want, v, err)
		}
	}
	if _, err := q.Take(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestSizedQueueCloseWakesProducers(t *testing.T) {
	ctx := context.Background()
	q := mustSizedQueue(t, 1)
	q.Offer(0)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() { errs <- q.Put(ctx, i) }()
	}
	waitUntil(t, "producers to block", func() bool { return q.NumWaiting() == 3 })
	q.Close()
	for i := 0; i < 3; i++ {
		if err := <-errs; !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Expected ErrQueueClosed, got %v", err)
		}
	}
	if q.Size() != 1 {
		t.Errorf("Expected the queued item to survive close, got size %d", q.Size())
	}
}

func TestSizedQueueKillInterruptsTake(t *testing.T) {
	q := mustSizedQueue(t, 1)
	th := Go(context.Background(), "consumer", func(t *Thread) (Value, error) {
		return q.Take(t.Context())
	})
	waitUntil(t, "consumer to block", func() bool { return q.NumWaiting() == 1 })

	th.Kill()
	_, err := th.Join(context.Background())
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, ErrThreadKilled) {
		t.Errorf("Expected a kill interruption, got %v", err)
	}
	if q.NumWaiting() != 0 {
		t.Errorf("Expected the waiter to be removed, got %d", q.NumWaiting())
	}

	// The queue still works for everyone else.
	if r := q.Offer(1); r != OfferSuccess {
		t.Errorf("Expected success, got %v", r)
	}
}

func TestSizedQueueContextInterruptsPut(t *testing.T) {
	q := mustSizedQueue(t, 1)
	q.Offer(1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Put(ctx, 2) }()
	waitUntil(t, "producer to block", func() bool { return q.NumWaiting() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected interruption, got %v", err)
	}
	if q.Size() != 1 {
		t.Errorf("Expected size 1, got %d", q.Size())
	}
}

func TestSizedQueuePollTimeout(t *testing.T) {
	ctx := context.Background()
	q := mustSizedQueue(t, 2)

	start := time.Now()
	v, ok, err := q.PollTimeout(ctx, 20*time.Millisecond)
	if ok || v != nil || err != nil {
		t.Errorf("Expected timeout, got %v/%v/%v", v, ok, err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Expected to wait the timeout, waited %v", elapsed)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Offer("late")
	}()
	v, ok, err = q.PollTimeout(ctx, 5*time.Second)
	if !ok || v != "late" || err != nil {
		t.Errorf("Expected late, got %v/%v/%v", v, ok, err)
	}

	q.Close()
	if _, ok, _ := q.PollTimeout(ctx, time.Second); ok {
		t.Error("Expected no item from a closed, empty queue")
	}
}

func TestSizedQueueChangeCapacity(t *testing.T) {
	ctx := context.Background()
	q := mustSizedQueue(t, 3)
	// Wrap the ring before resizing.
	q.Offer(0)
	q.Offer(1)
	q.Poll()
	q.Offer(2)
	q.Offer(3)

	if err := q.ChangeCapacity(2); !errors.Is(err, ErrCapacityBelowSize) {
		t.Errorf("Expected ErrCapacityBelowSize, got %v", err)
	}
	if q.Capacity() != 3 {
		t.Errorf("Expected capacity unchanged, got %d", q.Capacity())
	}
	if err := q.ChangeCapacity(0); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("Expected ErrInvalidCapacity, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, 4) }()
	waitUntil(t, "producer to block", func() bool { return q.NumWaiting() == 1 })

	if err := q.ChangeCapacity(5); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Errorf("Expected growth to release the producer, got %v", err)
	}
	if got := q.Drain(); !reflect.DeepEqual(got, []Value{1, 2, 3, 4}) {
		t.Errorf("Expected [1 2 3 4], got %v", got)
	}

	// Shrinking to exactly the current size is allowed.
	q.Offer("x")
	if err := q.ChangeCapacity(1); err != nil {
		t.Errorf("Expected shrink to size to succeed, got %v", err)
	}
	if r := q.Offer("y"); r != OfferFull {
		t.Errorf("Expected full, got %v", r)
	}
}

func TestSizedQueueClear(t *testing.T) {
	q := mustSizedQueue(t, 2)
	q.Offer(1)
	q.Offer(2)
	q.Clear()
	if q.Size() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Size())
	}
	if r := q.Offer(3); r != OfferSuccess {
		t.Errorf("Expected success after clear, got %v", r)
	}
}

func TestSizedQueueManyProducersConsumers(t *testing.T) {
	ctx := context.Background()
	q := mustSizedQueue(t, 3)
	const producers, perProducer = 4, 250

	errc := make(chan error, producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			for i := 0; i < perProducer; i++ {
				if err := q.Put(ctx, p*perProducer+i); err != nil {
					errc <- err
					return
				}
			}
			errc <- nil
		}()
	}

	seen := make(map[int]bool)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for i := 0; i < producers*perProducer; i++ {
		v, err := q.Take(ctx)
		if err != nil {
			t.Fatal(err)
		}
		n := v.(int)
		if seen[n] {
			t.Fatalf("Duplicate item %d", n)
		}
		seen[n] = true
		// Items from one producer arrive in order.
		p := n / perProducer
		if n <= last[p] {
			t.Fatalf("Producer %d out of order: %d after %d", p, n, last[p])
		}
		last[p] = n
	}
	for p := 0; p < producers; p++ {
		if err := <-errc; err != nil {
			t.Error(err)
		}
	}
}
