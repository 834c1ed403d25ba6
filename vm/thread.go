package vm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jtolds/gls"
)

// ---------------------------------------------------------------------------
// Thread: a goroutine with identity and cancellation
// ---------------------------------------------------------------------------

// ThreadStatus represents the state of a thread.
type ThreadStatus int32

const (
	ThreadRunnable ThreadStatus = iota
	ThreadSleeping
	ThreadDead
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadRunnable:
		return "run"
	case ThreadSleeping:
		return "sleep"
	case ThreadDead:
		return "dead"
	}
	return fmt.Sprintf("ThreadStatus(%d)", int32(s))
}

// Thread is the identity that owns mutexes and the target of kill and wakeup.
// Every blocking operation performed on behalf of a thread selects on its
// context, so Kill interrupts whatever the thread is blocked in.
type Thread struct {
	id     string
	name   string
	ctx    context.Context
	cancel context.CancelCauseFunc
	wakeup chan struct{}
	status atomic.Int32

	mu   sync.Mutex
	held map[*Mutex]struct{}

	done   chan struct{}
	result Value
	err    error
}

var threadLocals = gls.NewContextManager()

const currentThreadKey = "garnet.thread"

// NewThread creates a thread handle derived from parent. It does not start a
// goroutine; use Go for that, or Bind to adopt the calling goroutine.
func NewThread(parent context.Context, name string) *Thread {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Thread{
		id:     uuid.New().String(),
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		wakeup: make(chan struct{}, 1),
		held:   make(map[*Mutex]struct{}),
		done:   make(chan struct{}),
	}
}

// Go starts body on a new goroutine running as a new thread. When body
// returns the thread releases every mutex it still holds.
func Go(parent context.Context, name string, body func(t *Thread) (Value, error)) *Thread {
	t := NewThread(parent, name)
	go t.run(body)
	return t
}

func (t *Thread) run(body func(t *Thread) (Value, error)) {
	var (
		result Value
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("thread %s panicked: %v", t.name, r)
		}
		t.finish(result, err)
	}()
	t.Bind(func() {
		result, err = body(t)
	})
}

// Bind runs fn on the calling goroutine with t as the current thread.
func (t *Thread) Bind(fn func()) {
	threadLocals.SetValues(gls.Values{currentThreadKey: t}, fn)
}

// CurrentThread returns the thread bound to the calling goroutine.
func CurrentThread() (*Thread, bool) {
	v, ok := threadLocals.GetValue(currentThreadKey)
	if !ok {
		return nil, false
	}
	t, ok := v.(*Thread)
	return t, ok
}

func (t *Thread) finish(result Value, err error) {
	t.mu.Lock()
	held := make([]*Mutex, 0, len(t.held))
	for m := range t.held {
		held = append(held, m)
	}
	t.result = result
	t.err = err
	t.mu.Unlock()

	for _, m := range held {
		m.release(t)
	}
	t.status.Store(int32(ThreadDead))
	close(t.done)
	t.cancel(nil)
}

// ID returns the thread's unique identifier.
func (t *Thread) ID() string { return t.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// Context returns the context every blocking call made by the thread uses.
func (t *Thread) Context() context.Context { return t.ctx }

// Status returns the thread's status.
func (t *Thread) Status() ThreadStatus {
	return ThreadStatus(t.status.Load())
}

// Kill interrupts the thread. Blocked operations return an error wrapping
// ErrInterrupted and ErrThreadKilled.
func (t *Thread) Kill() {
	if t.ctx.Err() == nil {
		log.Debugf("killing thread %s (%s)", t.name, t.id)
	}
	t.cancel(ErrThreadKilled)
}

// Killed reports whether the thread was killed.
func (t *Thread) Killed() bool {
	return context.Cause(t.ctx) == ErrThreadKilled
}

// Wakeup ends the thread's current sleep, or the next one if it is not
// sleeping.
func (t *Thread) Wakeup() {
	select {
	case t.wakeup <- struct{}{}:
	default:
	}
}

// Done returns a channel closed when a thread started with Go finishes.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Join waits for a thread started with Go and returns its result.
func (t *Thread) Join(ctx context.Context) (Value, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, interrupted(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// sleep blocks for d (forever when d is negative) or until woken or killed.
func (t *Thread) sleep(d time.Duration) error {
	var expired <-chan time.Time
	if d >= 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}
	t.status.Store(int32(ThreadSleeping))
	defer t.status.Store(int32(ThreadRunnable))
	select {
	case <-t.wakeup:
		return nil
	case <-expired:
		return nil
	case <-t.ctx.Done():
		return interrupted(t.ctx)
	}
}

// Sleep blocks the thread without holding any mutex.
func (t *Thread) Sleep(d time.Duration) (time.Duration, error) {
	start := time.Now()
	err := t.sleep(d)
	return time.Since(start), err
}

func (t *Thread) addHeld(m *Mutex) {
	t.mu.Lock()
	t.held[m] = struct{}{}
	t.mu.Unlock()
}

func (t *Thread) removeHeld(m *Mutex) {
	t.mu.Lock()
	delete(t.held, m)
	t.mu.Unlock()
}

// HeldMutexes returns the number of mutexes the thread holds.
func (t *Thread) HeldMutexes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}
