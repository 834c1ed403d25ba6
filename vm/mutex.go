package vm

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Mutex: owner-tracking lock
// ---------------------------------------------------------------------------

// Mutex is a lock owned by a Thread. Acquisition parks on a one-slot
// semaphore channel so that a killed thread stops waiting for it.
type Mutex struct {
	sem   chan struct{}
	owner atomic.Pointer[Thread]
}

// NewMutex creates an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: make(chan struct{}, 1)}
}

// Lock acquires the mutex for t, blocking while another thread holds it.
// Every operation taking a thread returns ErrNilThread (or false) for nil.
func (m *Mutex) Lock(t *Thread) error {
	if t == nil {
		return ErrNilThread
	}
	if m.owner.Load() == t {
		return ErrRecursiveLock
	}
	return m.acquire(t)
}

func (m *Mutex) acquire(t *Thread) error {
	if t.ctx.Err() != nil {
		return interrupted(t.ctx)
	}
	select {
	case m.sem <- struct{}{}:
	case <-t.ctx.Done():
		return interrupted(t.ctx)
	}
	m.owner.Store(t)
	t.addHeld(m)
	return nil
}

// TryLock acquires the mutex if it is free. It reports true without a second
// acquisition when t already holds it.
func (m *Mutex) TryLock(t *Thread) bool {
	if t == nil {
		return false
	}
	if m.owner.Load() == t {
		return true
	}
	select {
	case m.sem <- struct{}{}:
		m.owner.Store(t)
		t.addHeld(m)
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Only the owner may unlock it.
func (m *Mutex) Unlock(t *Thread) error {
	switch owner := m.owner.Load(); {
	case t == nil:
		return ErrNilThread
	case owner == nil:
		return ErrNotLocked
	case owner != t:
		return ErrNotOwner
	}
	m.release(t)
	return nil
}

func (m *Mutex) release(t *Thread) {
	if !m.owner.CompareAndSwap(t, nil) {
		return
	}
	t.removeHeld(m)
	<-m.sem
}

// Locked reports whether any thread holds the mutex.
func (m *Mutex) Locked() bool {
	return m.owner.Load() != nil
}

// Owned reports whether t holds the mutex.
func (m *Mutex) Owned(t *Thread) bool {
	return t != nil && m.owner.Load() == t
}

// Owner returns the holding thread, or nil.
func (m *Mutex) Owner() *Thread {
	return m.owner.Load()
}

// Sleep releases the mutex, sleeps for d (forever when d is negative) or until
// the thread is woken, and reacquires the mutex. If the thread is killed it
// returns the interruption with the mutex released.
func (m *Mutex) Sleep(t *Thread, d time.Duration) (time.Duration, error) {
	if err := m.Unlock(t); err != nil {
		return 0, err
	}
	start := time.Now()
	if err := t.sleep(d); err != nil {
		return time.Since(start), err
	}
	if err := m.acquire(t); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

// Synchronize runs fn while holding the mutex. The mutex is released even if
// fn panics.
func (m *Mutex) Synchronize(t *Thread, fn func() error) error {
	if err := m.Lock(t); err != nil {
		return err
	}
	defer m.release(t)
	return fn()
}

// ---------------------------------------------------------------------------
// ConditionVariable
// ---------------------------------------------------------------------------

// ConditionVariable lets threads holding a Mutex wait for a signal.
type ConditionVariable struct {
	mu      sync.Mutex
	waiters waitQueue
}

// NewConditionVariable creates a condition variable.
func NewConditionVariable() *ConditionVariable {
	return &ConditionVariable{}
}

// Wait releases m, waits for a signal or the timeout (forever when negative)
// and reacquires m. The waiter is registered before m is released, so a
// signal sent by the next holder of m is never missed. If the thread is
// killed Wait returns the interruption with m released.
func (cv *ConditionVariable) Wait(t *Thread, m *Mutex, timeout time.Duration) error {
	cv.mu.Lock()
	w := cv.waiters.enqueue()
	cv.mu.Unlock()

	if err := m.Unlock(t); err != nil {
		cv.mu.Lock()
		cv.waiters.remove(w)
		cv.mu.Unlock()
		return err
	}

	err := cv.waiters.await(t.ctx, w, timeout)
	cv.mu.Lock()
	err = cv.waiters.settle(w, err)
	cv.mu.Unlock()
	if err != nil && !errors.Is(err, errWaitTimeout) {
		return err
	}
	return m.acquire(t)
}

// Signal wakes the longest waiting thread.
func (cv *ConditionVariable) Signal() {
	cv.mu.Lock()
	cv.waiters.signal()
	cv.mu.Unlock()
}

// Broadcast wakes every waiting thread.
func (cv *ConditionVariable) Broadcast() {
	cv.mu.Lock()
	cv.waiters.broadcast()
	cv.mu.Unlock()
}

// NumWaiting returns the number of waiting threads.
func (cv *ConditionVariable) NumWaiting() int {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.waiters.len()
}
