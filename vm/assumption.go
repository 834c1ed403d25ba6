package vm

import (
	"sync"
	"sync/atomic"
)

// Assumption is a revocable validity token. Code that derived something from
// a value believed constant keeps the assumption next to the derived result
// and checks IsValid before trusting the result again. Once invalidated an
// assumption stays dead.
type Assumption struct {
	name    string
	invalid atomic.Bool
}

// NewAssumption returns a valid assumption.
func NewAssumption(name string) *Assumption {
	return &Assumption{name: name}
}

// Name returns the assumption's description.
func (a *Assumption) Name() string { return a.name }

// IsValid reports whether the assumption still holds.
func (a *Assumption) IsValid() bool {
	return !a.invalid.Load()
}

// Invalidate kills the assumption. It reports whether this call was the one
// that invalidated it.
func (a *Assumption) Invalidate() bool {
	return a.invalid.CompareAndSwap(false, true)
}

func (a *Assumption) String() string {
	if a.IsValid() {
		return a.name + " (valid)"
	}
	return a.name + " (invalid)"
}

// allValid reports whether every assumption in as is valid.
func allValid(as []*Assumption) bool {
	for _, a := range as {
		if !a.IsValid() {
			return false
		}
	}
	return true
}

// CyclicAssumption hands out a fresh Assumption after every invalidation.
type CyclicAssumption struct {
	name    string
	mu      sync.Mutex
	current atomic.Pointer[Assumption]
	renewed atomic.Uint64
}

// NewCyclicAssumption returns a cyclic assumption whose current assumption is
// valid.
func NewCyclicAssumption(name string) *CyclicAssumption {
	c := &CyclicAssumption{name: name}
	c.current.Store(NewAssumption(name))
	return c
}

// Get returns the current assumption.
func (c *CyclicAssumption) Get() *Assumption {
	return c.current.Load()
}

// Invalidate kills the current assumption and installs a fresh one. The old
// assumption is dead before the new one becomes visible.
func (c *CyclicAssumption) Invalidate() {
	c.mu.Lock()
	c.current.Load().Invalidate()
	c.current.Store(NewAssumption(c.name))
	c.renewed.Add(1)
	c.mu.Unlock()
}

// Renewals returns how many times the assumption was invalidated.
func (c *CyclicAssumption) Renewals() uint64 {
	return c.renewed.Load()
}
