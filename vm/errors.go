package vm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by queue operations on a closed queue.
	ErrQueueClosed = errors.New("queue closed")
	// ErrInvalidCapacity is returned for a queue capacity below one.
	ErrInvalidCapacity = errors.New("queue capacity must be positive")
	// ErrCapacityBelowSize is returned when shrinking a queue below the
	// number of items it holds.
	ErrCapacityBelowSize = errors.New("queue capacity below current size")

	// ErrInterrupted wraps the cause of every interrupted blocking wait.
	ErrInterrupted = errors.New("interrupted")
	// ErrThreadKilled is the cancellation cause of a killed thread.
	ErrThreadKilled = errors.New("thread killed")

	// ErrNotLocked is returned when unlocking a mutex nobody holds.
	ErrNotLocked = errors.New("attempt to unlock a mutex which is not locked")
	// ErrNotOwner is returned when unlocking a mutex held by another thread.
	ErrNotOwner = errors.New("attempt to unlock a mutex which is locked by another thread")
	// ErrRecursiveLock is returned when a thread locks a mutex it already holds.
	ErrRecursiveLock = errors.New("deadlock; recursive locking")

	// ErrWrongArity is returned when a method gets the wrong number of arguments.
	ErrWrongArity = errors.New("wrong number of arguments")
	// ErrHookedVariable is returned when writing a read-only hooked global.
	ErrHookedVariable = errors.New("global variable is read-only")
	// ErrMissingGetter is returned when installing hooks without a getter.
	ErrMissingGetter = errors.New("hooked global variable needs a getter")
	// ErrNilThread is returned by mutex operations given no thread.
	ErrNilThread = errors.New("mutex operation without a thread")
)

// NoMethodError reports a failed method lookup.
type NoMethodError struct {
	Name     string
	Class    *Class
	Receiver Value
}

func (e *NoMethodError) Error() string {
	return fmt.Sprintf("undefined method '%s' for an instance of %s", e.Name, e.Class.Name)
}

// interrupted wraps the cause of a done context.
func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
}
