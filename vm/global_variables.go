package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// DefaultGlobalVariableMaxInvalidations is the number of writes a global
// variable may see before it stops handing out assumptions.
const DefaultGlobalVariableMaxInvalidations = 10

// GlobalHooks turn a global variable into a virtual one. Get is required; a
// nil Set makes the variable read-only.
type GlobalHooks struct {
	Get func() (Value, error)
	Set func(Value) error
}

// globalSnapshot is the immutable (value, assumption) pair readers load.
// assumption is nil once the storage is not assumable.
type globalSnapshot struct {
	value      Value
	assumption *Assumption
	defined    bool
}

// GlobalVariableStorage holds the value of one global variable.
//
// Readers load the current snapshot without locking. A writer invalidates the
// current assumption before it publishes the next snapshot, so a reader whose
// assumption is still valid holds the latest value. A reader that loads a
// snapshot whose assumption is already dead has caught a write in flight and
// waits for it on the storage lock.
type GlobalVariableStorage struct {
	name             string
	maxInvalidations int
	hooks            *GlobalHooks

	mu        sync.Mutex // serializes writers
	snap      atomic.Pointer[globalSnapshot]
	changes   int
	assumable atomic.Bool
}

// NewGlobalVariableStorage returns a defined storage holding value.
func NewGlobalVariableStorage(name string, value Value, maxInvalidations int) *GlobalVariableStorage {
	g := newGlobalStorage(name, maxInvalidations)
	g.snap.Store(&globalSnapshot{value: value, assumption: NewAssumption(name), defined: true})
	return g
}

func newGlobalStorage(name string, maxInvalidations int) *GlobalVariableStorage {
	if maxInvalidations < 0 {
		maxInvalidations = DefaultGlobalVariableMaxInvalidations
	}
	g := &GlobalVariableStorage{name: name, maxInvalidations: maxInvalidations}
	g.assumable.Store(true)
	g.snap.Store(&globalSnapshot{assumption: NewAssumption(name)})
	return g
}

// newHookedStorage returns a virtual variable. Hooked variables are never
// assumable.
func newHookedStorage(name string, hooks GlobalHooks) *GlobalVariableStorage {
	g := &GlobalVariableStorage{name: name, hooks: &hooks}
	g.snap.Store(&globalSnapshot{defined: true})
	return g
}

// Name returns the variable's name including the sigil.
func (g *GlobalVariableStorage) Name() string { return g.name }

// Read returns the current value and the assumption guarding it. The
// assumption is nil when the variable is not assumable; callers must not
// cache the value then.
func (g *GlobalVariableStorage) Read() (Value, *Assumption, error) {
	if g.hooks != nil {
		v, err := g.hooks.Get()
		return v, nil, err
	}
	s := g.snap.Load()
	if s.assumption != nil && !s.assumption.IsValid() {
		g.mu.Lock()
		s = g.snap.Load()
		g.mu.Unlock()
	}
	return s.value, s.assumption, nil
}

// Value returns the current value, ignoring the assumption.
func (g *GlobalVariableStorage) Value() Value {
	v, _, _ := g.Read()
	return v
}

// Write stores value. Every write to an assumable variable invalidates the
// current assumption; after maxInvalidations writes the variable is marked
// not assumable.
func (g *GlobalVariableStorage) Write(value Value) error {
	if g.hooks != nil {
		if g.hooks.Set == nil {
			return ErrHookedVariable
		}
		return g.hooks.Set(value)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.snap.Load()
	if !g.assumable.Load() {
		g.snap.Store(&globalSnapshot{value: value, defined: true})
		return nil
	}

	g.changes++
	next := &globalSnapshot{value: value, defined: true}
	if g.changes <= g.maxInvalidations {
		next.assumption = NewAssumption(g.name)
	} else {
		g.assumable.Store(false)
		log.Debugf("global variable %s changed %d times, no longer assumable", g.name, g.changes)
	}
	old.assumption.Invalidate()
	g.snap.Store(next)
	return nil
}

// MarkUnassumable stops the variable from handing out assumptions. The
// current assumption is invalidated.
func (g *GlobalVariableStorage) MarkUnassumable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.assumable.Load() {
		return
	}
	g.assumable.Store(false)
	old := g.snap.Load()
	if old.assumption != nil {
		old.assumption.Invalidate()
	}
	g.snap.Store(&globalSnapshot{value: old.value, defined: old.defined})
}

// IsAssumable reports whether reads still come with an assumption.
func (g *GlobalVariableStorage) IsAssumable() bool {
	return g.hooks == nil && g.assumable.Load()
}

// IsHooked reports whether the variable is virtual.
func (g *GlobalVariableStorage) IsHooked() bool { return g.hooks != nil }

// IsDefined reports whether the variable was ever assigned.
func (g *GlobalVariableStorage) IsDefined() bool {
	return g.snap.Load().defined
}

// ChangeCount returns the number of writes counted against the budget.
func (g *GlobalVariableStorage) ChangeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changes
}

// ---------------------------------------------------------------------------
// GlobalVariables: the global symbol table
// ---------------------------------------------------------------------------

type globalEntry struct {
	name    string
	storage *GlobalVariableStorage
}

func globalLess(a, b globalEntry) bool { return a.name < b.name }

// GlobalVariables maps global variable names to their storage. Aliases map a
// second name to the same storage.
//
// Rebinding a name to another storage (Alias, DefineHooked) marks the replaced
// storage not assumable and renews the table's bindings assumption, which
// every GlobalReadSite checks next to the value's own assumption.
type GlobalVariables struct {
	maxInvalidations int
	bindings         *CyclicAssumption

	mu      sync.RWMutex
	entries *btree.BTreeG[globalEntry]
}

// NewGlobalVariables creates an empty table whose storages use the given
// invalidation budget.
func NewGlobalVariables(maxInvalidations int) *GlobalVariables {
	return &GlobalVariables{
		maxInvalidations: maxInvalidations,
		bindings:         NewCyclicAssumption("global bindings unchanged"),
		entries:          btree.NewG[globalEntry](8, globalLess),
	}
}

// Lookup returns the storage for name, or nil.
func (gv *GlobalVariables) Lookup(name string) *GlobalVariableStorage {
	gv.mu.RLock()
	defer gv.mu.RUnlock()
	if e, ok := gv.entries.Get(globalEntry{name: name}); ok {
		return e.storage
	}
	return nil
}

// Get returns the storage for name, creating an undefined one if needed.
func (gv *GlobalVariables) Get(name string) *GlobalVariableStorage {
	if g := gv.Lookup(name); g != nil {
		return g
	}
	gv.mu.Lock()
	defer gv.mu.Unlock()
	if e, ok := gv.entries.Get(globalEntry{name: name}); ok {
		return e.storage
	}
	g := newGlobalStorage(name, gv.maxInvalidations)
	gv.entries.ReplaceOrInsert(globalEntry{name: name, storage: g})
	return g
}

// Define assigns value to name, creating the variable if needed.
func (gv *GlobalVariables) Define(name string, value Value) (*GlobalVariableStorage, error) {
	g := gv.Get(name)
	if err := g.Write(value); err != nil {
		return nil, err
	}
	return g, nil
}

// DefineHooked installs a virtual variable, replacing any existing one.
func (gv *GlobalVariables) DefineHooked(name string, hooks GlobalHooks) (*GlobalVariableStorage, error) {
	if hooks.Get == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingGetter, name)
	}
	g := newHookedStorage(name, hooks)
	gv.bind(name, g)
	return g, nil
}

// Alias makes newName refer to the storage of oldName.
func (gv *GlobalVariables) Alias(newName, oldName string) *GlobalVariableStorage {
	g := gv.Get(oldName)
	gv.bind(newName, g)
	return g
}

// bind points name at g. A storage that loses its name stops handing out
// assumptions, and read sites resolve the name again.
func (gv *GlobalVariables) bind(name string, g *GlobalVariableStorage) {
	gv.mu.Lock()
	prev, replaced := gv.entries.ReplaceOrInsert(globalEntry{name: name, storage: g})
	gv.mu.Unlock()
	if !replaced || prev.storage == g {
		return
	}
	log.Debugf("global variable %s rebound", name)
	prev.storage.MarkUnassumable()
	gv.bindings.Invalidate()
}

// Bindings returns the assumption that no name has been rebound.
func (gv *GlobalVariables) Bindings() *Assumption {
	return gv.bindings.Get()
}

// Names returns every variable name in order.
func (gv *GlobalVariables) Names() []string {
	gv.mu.RLock()
	defer gv.mu.RUnlock()
	names := make([]string, 0, gv.entries.Len())
	gv.entries.Ascend(func(e globalEntry) bool {
		names = append(names, e.name)
		return true
	})
	return names
}

// Len returns the number of names in the table.
func (gv *GlobalVariables) Len() int {
	gv.mu.RLock()
	defer gv.mu.RUnlock()
	return gv.entries.Len()
}

// ---------------------------------------------------------------------------
// GlobalReadSite
// ---------------------------------------------------------------------------

// GlobalReadSite caches the value of a global variable at one read site. The
// cached value is reused while its own assumption and the table's bindings
// assumption both hold; otherwise the name is looked up again.
type GlobalReadSite struct {
	globals *GlobalVariables
	name    string
	cached  atomic.Pointer[readSiteEntry]

	hits   atomic.Uint64
	misses atomic.Uint64
}

type readSiteEntry struct {
	value      Value
	assumption *Assumption
	bindings   *Assumption
}

// NewGlobalReadSite returns a read site for the named variable.
func NewGlobalReadSite(globals *GlobalVariables, name string) *GlobalReadSite {
	return &GlobalReadSite{globals: globals, name: name}
}

// Read returns the variable's value. Undefined variables read as nil.
func (r *GlobalReadSite) Read() (Value, error) {
	if c := r.cached.Load(); c != nil && c.assumption.IsValid() && c.bindings.IsValid() {
		r.hits.Add(1)
		return c.value, nil
	}
	r.misses.Add(1)
	// The bindings assumption is taken before the lookup so a rebind racing
	// with it kills the entry.
	bindings := r.globals.Bindings()
	g := r.globals.Lookup(r.name)
	if g == nil {
		r.cached.Store(nil)
		return nil, nil
	}
	v, a, err := g.Read()
	if err != nil {
		return nil, err
	}
	if a != nil {
		r.cached.Store(&readSiteEntry{value: v, assumption: a, bindings: bindings})
	} else {
		r.cached.Store(nil)
	}
	return v, nil
}

// Hits returns the number of reads served from the cache.
func (r *GlobalReadSite) Hits() uint64 { return r.hits.Load() }

// Misses returns the number of reads that went to the table.
func (r *GlobalReadSite) Misses() uint64 { return r.misses.Load() }
