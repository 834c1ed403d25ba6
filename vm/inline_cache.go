package vm

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Inline Caching for Method Dispatch
//
// Each call site owns a chain of cache entries. An entry guards on the
// receiver (its shape for objects, its type tag for immediates, a type check
// for foreign values) and the method name, and holds the resolved method.
// Entries are tried in order and the first match wins.
//
// Readers walk the chain without locking. The chain only ever grows at the
// tail, and an entry is fully built before it is linked, so a reader racing
// with a writer at worst misses the new entry and falls into the slow path.
// Growth is serialized per site. Entries whose lookup assumptions died are
// skipped by readers and pruned by the next writer, which publishes a fresh
// copy of the surviving chain.
//
// A site progresses Uninitialized -> Monomorphic -> Polymorphic ->
// Megamorphic. Once the chain would exceed the depth limit it is replaced by
// a single terminal that looks the method up on every call.

// CacheState represents the current state of a call site.
type CacheState uint8

const (
	CacheUninitialized CacheState = iota // No cached lookup yet
	CacheMonomorphic                     // Single entry
	CachePolymorphic                     // 2..limit entries
	CacheMegamorphic                     // Too many receivers, use full lookup
)

var cacheStateNames = [...]string{"uninitialized", "monomorphic", "polymorphic", "megamorphic"}

func (s CacheState) String() string {
	if int(s) < len(cacheStateNames) {
		return cacheStateNames[s]
	}
	return fmt.Sprintf("CacheState(%d)", uint8(s))
}

// DefaultCacheDepthLimit is the polymorphic chain limit used when none is
// configured.
const DefaultCacheDepthLimit = 8

// MissingBehavior selects what a call site does when the method is not found.
type MissingBehavior uint8

const (
	MissingRaise        MissingBehavior = iota // return a *NoMethodError
	MissingReturn                              // return the Missing sentinel
	MissingCallFallback                        // call method_missing, else *NoMethodError
)

func (b MissingBehavior) String() string {
	switch b {
	case MissingRaise:
		return "raise"
	case MissingReturn:
		return "return"
	case MissingCallFallback:
		return "fallback"
	}
	return fmt.Sprintf("MissingBehavior(%d)", uint8(b))
}

// ParseMissingBehavior parses "raise", "return" or "fallback".
func ParseMissingBehavior(s string) (MissingBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raise":
		return MissingRaise, nil
	case "return", "return-missing":
		return MissingReturn, nil
	case "fallback", "call-fallback", "method_missing":
		return MissingCallFallback, nil
	}
	return MissingRaise, fmt.Errorf("unknown missing behavior %q", s)
}

type missingValue struct{}

func (missingValue) String() string { return "<missing>" }

// Missing is the result of a failed lookup at a MissingReturn site.
var Missing Value = missingValue{}

// MethodMissing is the name of the fallback handler.
const MethodMissing = "method_missing"

// Runtime is what dispatch needs from the object model and method tables.
type Runtime interface {
	ClassOf(v Value) *Class
	LookupMethod(class *Class, name string) LookupResult
}

// ---------------------------------------------------------------------------
// Cache entries
// ---------------------------------------------------------------------------

type guardKind uint8

const (
	guardTag         guardKind = iota // shape-free immediate, class identity by tag
	guardShape                        // shape identity
	guardForeign                      // any foreign value
	guardBoolean                      // true/false split
	guardMegamorphic                  // always matches, never caches
)

var guardNames = [...]string{"class", "shape", "foreign", "boolean", "megamorphic"}

// cacheTarget is what an entry calls for one receiver class.
type cacheTarget struct {
	class    *Class
	method   Method // nil when the lookup failed
	fallback Method // method_missing, resolved only for MissingCallFallback
}

// CacheEntry is one guarded specialization at a call site.
type CacheEntry struct {
	name  string
	kind  guardKind
	tag   valueTag
	shape *Shape

	target cacheTarget // for boolean entries, the true receiver
	alt    cacheTarget // for boolean entries, the false receiver

	assumptions []*Assumption

	next atomic.Pointer[CacheEntry]
}

func (e *CacheEntry) matches(tag valueTag, recv Value, name string) bool {
	if e.kind == guardMegamorphic {
		return true
	}
	if e.name != name {
		return false
	}
	switch e.kind {
	case guardShape:
		return tag == tagObject && recv.(*Object).Shape() == e.shape
	case guardTag:
		return tag == e.tag
	case guardBoolean:
		return tag.isBoolean()
	case guardForeign:
		return tag == tagForeign
	}
	return false
}

func (e *CacheEntry) live() bool {
	return allValid(e.assumptions)
}

// clone copies the entry without its link.
func (e *CacheEntry) clone() *CacheEntry {
	return &CacheEntry{
		name:        e.name,
		kind:        e.kind,
		tag:         e.tag,
		shape:       e.shape,
		target:      e.target,
		alt:         e.alt,
		assumptions: e.assumptions,
	}
}

// Name returns the method name the entry is guarded on.
func (e *CacheEntry) Name() string { return e.name }

// Guard describes the entry's guard kind.
func (e *CacheEntry) Guard() string { return guardNames[e.kind] }

// Method returns the cached method, nil for missing entries and the
// megamorphic terminal.
func (e *CacheEntry) Method() Method { return e.target.method }

// IsMissing reports whether the entry caches a failed lookup.
func (e *CacheEntry) IsMissing() bool {
	switch e.kind {
	case guardMegamorphic:
		return false
	case guardBoolean:
		return e.target.method == nil || e.alt.method == nil
	}
	return e.target.method == nil
}

// ---------------------------------------------------------------------------
// DispatchSite
// ---------------------------------------------------------------------------

// DispatchSite is the inline cache of a single call site.
type DispatchSite struct {
	runtime Runtime
	missing MissingBehavior
	limit   int

	mu    sync.Mutex // serializes chain growth
	head  atomic.Pointer[CacheEntry]
	state atomic.Uint32
	depth atomic.Int32

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewDispatchSite creates an uninitialized call site. A negative limit selects
// DefaultCacheDepthLimit; a zero limit makes the first miss megamorphic.
func NewDispatchSite(rt Runtime, missing MissingBehavior, limit int) *DispatchSite {
	if limit < 0 {
		limit = DefaultCacheDepthLimit
	}
	return &DispatchSite{runtime: rt, missing: missing, limit: limit}
}

// Dispatch calls the method name on recv, specializing the site on a miss.
func (s *DispatchSite) Dispatch(recv Value, name string, args []Value) (Value, error) {
	tag := tagOf(recv)
	e := s.find(tag, recv, name)
	if e != nil && e.kind != guardMegamorphic {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
		if e == nil {
			e = s.specialize(tag, recv, name)
		}
	}
	return s.execute(e, tag, recv, name, args)
}

// find walks the chain without locking and returns the first live match.
func (s *DispatchSite) find(tag valueTag, recv Value, name string) *CacheEntry {
	for e := s.head.Load(); e != nil; e = e.next.Load() {
		if e.matches(tag, recv, name) && e.live() {
			return e
		}
	}
	return nil
}

// specialize is the slow path. It runs under the site lock and returns the
// entry to execute.
func (s *DispatchSite) specialize(tag valueTag, recv Value, name string) *CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have installed the entry while we waited.
	if e := s.find(tag, recv, name); e != nil {
		return e
	}
	s.pruneLocked()

	if int(s.depth.Load())+1 > s.limit {
		s.becomeMegamorphicLocked(name)
		return s.head.Load()
	}
	e := s.newEntry(tag, recv, name)
	s.appendLocked(e)
	return e
}

func (s *DispatchSite) newEntry(tag valueTag, recv Value, name string) *CacheEntry {
	e := &CacheEntry{name: name}
	switch {
	case tag.isBoolean():
		e.kind = guardBoolean
		var ta, fa []*Assumption
		e.target, ta = s.resolve(s.runtime.ClassOf(true), name)
		e.alt, fa = s.resolve(s.runtime.ClassOf(false), name)
		e.assumptions = append(ta, fa...)
		return e
	case tag == tagObject:
		e.kind = guardShape
		e.shape = recv.(*Object).Shape()
		e.target, e.assumptions = s.resolve(e.shape.Class(), name)
		return e
	case tag == tagForeign:
		e.kind = guardForeign
	default:
		e.kind = guardTag
		e.tag = tag
	}
	e.target, e.assumptions = s.resolve(s.runtime.ClassOf(recv), name)
	return e
}

// resolve performs the uncached lookup for one receiver class.
func (s *DispatchSite) resolve(class *Class, name string) (cacheTarget, []*Assumption) {
	r := s.runtime.LookupMethod(class, name)
	t := cacheTarget{class: class, method: r.Method}
	as := r.Assumptions
	if !r.Found() && s.missing == MissingCallFallback {
		fr := s.runtime.LookupMethod(class, MethodMissing)
		t.fallback = fr.Method
		as = append(as, fr.Assumptions...)
	}
	return t, as
}

func (s *DispatchSite) appendLocked(e *CacheEntry) {
	var tail *CacheEntry
	for cur := s.head.Load(); cur != nil; cur = cur.next.Load() {
		tail = cur
	}
	if tail == nil {
		s.head.Store(e)
	} else {
		tail.next.Store(e)
	}
	s.setDepthLocked(s.depth.Load() + 1)
}

// pruneLocked drops dead entries by publishing a copy of the live ones.
func (s *DispatchSite) pruneLocked() {
	dead := false
	for e := s.head.Load(); e != nil; e = e.next.Load() {
		if !e.live() {
			dead = true
			break
		}
	}
	if !dead {
		return
	}
	var head, tail *CacheEntry
	var n int32
	for e := s.head.Load(); e != nil; e = e.next.Load() {
		if !e.live() {
			continue
		}
		c := e.clone()
		if tail == nil {
			head = c
		} else {
			tail.next.Store(c)
		}
		tail = c
		n++
	}
	s.head.Store(head)
	s.setDepthLocked(n)
}

func (s *DispatchSite) setDepthLocked(n int32) {
	s.depth.Store(n)
	switch {
	case n == 0:
		s.state.Store(uint32(CacheUninitialized))
	case n == 1:
		s.state.Store(uint32(CacheMonomorphic))
	default:
		s.state.Store(uint32(CachePolymorphic))
	}
}

func (s *DispatchSite) becomeMegamorphicLocked(name string) {
	log.Debugf("call site for %q went megamorphic after %d entries", name, s.depth.Load())
	s.head.Store(&CacheEntry{name: name, kind: guardMegamorphic})
	s.depth.Store(0)
	s.state.Store(uint32(CacheMegamorphic))
}

func (s *DispatchSite) execute(e *CacheEntry, tag valueTag, recv Value, name string, args []Value) (Value, error) {
	switch e.kind {
	case guardMegamorphic:
		t, _ := s.resolve(s.runtime.ClassOf(recv), name)
		return s.invoke(t, recv, name, args)
	case guardBoolean:
		if tag == tagTrue {
			return s.invoke(e.target, recv, name, args)
		}
		return s.invoke(e.alt, recv, name, args)
	}
	return s.invoke(e.target, recv, name, args)
}

func (s *DispatchSite) invoke(t cacheTarget, recv Value, name string, args []Value) (Value, error) {
	if t.method != nil {
		return t.method.Invoke(recv, args)
	}
	switch s.missing {
	case MissingReturn:
		return Missing, nil
	case MissingCallFallback:
		if t.fallback != nil {
			fargs := make([]Value, 0, len(args)+1)
			fargs = append(fargs, Symbol(name))
			fargs = append(fargs, args...)
			return t.fallback.Invoke(recv, fargs)
		}
	}
	return nil, &NoMethodError{Name: name, Class: t.class, Receiver: recv}
}

// State returns the site's cache state.
func (s *DispatchSite) State() CacheState {
	return CacheState(s.state.Load())
}

// Depth returns the number of cached entries. It is zero for a megamorphic
// site.
func (s *DispatchSite) Depth() int {
	return int(s.depth.Load())
}

// Limit returns the site's depth limit.
func (s *DispatchSite) Limit() int { return s.limit }

// MissingBehavior returns the site's missing-method policy.
func (s *DispatchSite) MissingBehavior() MissingBehavior { return s.missing }

// Entries returns a snapshot of the chain.
func (s *DispatchSite) Entries() []*CacheEntry {
	var entries []*CacheEntry
	for e := s.head.Load(); e != nil; e = e.next.Load() {
		entries = append(entries, e)
	}
	return entries
}

// Hits returns the number of calls served from the cache.
func (s *DispatchSite) Hits() uint64 { return s.hits.Load() }

// Misses returns the number of calls that needed a lookup.
func (s *DispatchSite) Misses() uint64 { return s.misses.Load() }

// HitRate returns the cache hit rate as a percentage (0-100).
func (s *DispatchSite) HitRate() float64 {
	hits, misses := s.hits.Load(), s.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// Reset drops every entry and counter, returning the site to the
// uninitialized state. This is the only way out of the megamorphic state.
func (s *DispatchSite) Reset() {
	s.mu.Lock()
	s.head.Store(nil)
	s.setDepthLocked(0)
	s.hits.Store(0)
	s.misses.Store(0)
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// CallSiteTable
// ---------------------------------------------------------------------------

// CallSiteTable manages the dispatch sites of a VM, keyed by call-site ID.
type CallSiteTable struct {
	runtime Runtime
	limit   int

	mu    sync.RWMutex
	sites map[int]*DispatchSite
}

// NewCallSiteTable creates a table whose sites use the given depth limit.
func NewCallSiteTable(rt Runtime, limit int) *CallSiteTable {
	return &CallSiteTable{
		runtime: rt,
		limit:   limit,
		sites:   make(map[int]*DispatchSite),
	}
}

// GetOrCreate returns the site for id, creating one with the given missing
// behavior if needed.
func (t *CallSiteTable) GetOrCreate(id int, missing MissingBehavior) *DispatchSite {
	t.mu.RLock()
	site := t.sites[id]
	t.mu.RUnlock()
	if site != nil {
		return site
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if site = t.sites[id]; site != nil {
		return site
	}
	site = NewDispatchSite(t.runtime, missing, t.limit)
	t.sites[id] = site
	return site
}

// Get returns the site for id, or nil if none exists.
func (t *CallSiteTable) Get(id int) *DispatchSite {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sites[id]
}

// Each calls fn for every site.
func (t *CallSiteTable) Each(fn func(id int, site *DispatchSite)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, site := range t.sites {
		fn(id, site)
	}
}

// Len returns the number of sites.
func (t *CallSiteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sites)
}

// Reset resets every site in the table.
func (t *CallSiteTable) Reset() {
	t.Each(func(_ int, site *DispatchSite) { site.Reset() })
}

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalCallSites  int     // Total number of call sites
	Monomorphic     int     // Call sites in monomorphic state
	Polymorphic     int     // Call sites in polymorphic state
	Megamorphic     int     // Call sites in megamorphic state
	Empty           int     // Call sites never used
	TotalHits       uint64  // Total cache hits
	TotalMisses     uint64  // Total cache misses
	HitRate         float64 // Overall hit rate percentage
	MonomorphicRate float64 // Percentage of used call sites that are monomorphic
}

// Stats gathers statistics over every site in the table.
func (t *CallSiteTable) Stats() ICStats {
	var stats ICStats
	t.Each(func(_ int, site *DispatchSite) {
		stats.TotalCallSites++
		switch site.State() {
		case CacheMonomorphic:
			stats.Monomorphic++
		case CachePolymorphic:
			stats.Polymorphic++
		case CacheMegamorphic:
			stats.Megamorphic++
		case CacheUninitialized:
			stats.Empty++
		}
		stats.TotalHits += site.Hits()
		stats.TotalMisses += site.Misses()
	})

	total := stats.TotalHits + stats.TotalMisses
	if total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	nonEmpty := stats.TotalCallSites - stats.Empty
	if nonEmpty > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(nonEmpty)
	}
	return stats
}
