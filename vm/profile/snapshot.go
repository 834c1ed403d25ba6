// Package profile captures inline cache and global variable statistics of a
// running VM as a snapshot that can be written to disk and inspected later.
// Snapshots are encoded as canonical CBOR.
package profile

import (
	"sort"
	"time"

	"github.com/chazu/garnet/vm"
)

// SiteSnapshot describes one call site.
type SiteSnapshot struct {
	ID      int      `cbor:"1,keyasint"`
	State   string   `cbor:"2,keyasint"`
	Depth   int      `cbor:"3,keyasint"`
	Limit   int      `cbor:"4,keyasint"`
	Hits    uint64   `cbor:"5,keyasint"`
	Misses  uint64   `cbor:"6,keyasint"`
	Guards  []string `cbor:"7,keyasint,omitempty"` // guard kind per entry, in chain order
	Missing int      `cbor:"8,keyasint"`           // entries caching a failed lookup
}

// GlobalSnapshot describes one global variable name.
type GlobalSnapshot struct {
	Name      string `cbor:"1,keyasint"`
	Changes   int    `cbor:"2,keyasint"`
	Assumable bool   `cbor:"3,keyasint"`
	Hooked    bool   `cbor:"4,keyasint"`
	Defined   bool   `cbor:"5,keyasint"`
}

// Snapshot is the statistics of a VM at one point in time.
type Snapshot struct {
	Taken   time.Time        `cbor:"1,keyasint"`
	Limit   int              `cbor:"2,keyasint"`
	Totals  Totals           `cbor:"3,keyasint"`
	Sites   []SiteSnapshot   `cbor:"4,keyasint,omitempty"`
	Globals []GlobalSnapshot `cbor:"5,keyasint,omitempty"`
}

// Totals mirrors vm.ICStats.
type Totals struct {
	CallSites   int     `cbor:"1,keyasint"`
	Monomorphic int     `cbor:"2,keyasint"`
	Polymorphic int     `cbor:"3,keyasint"`
	Megamorphic int     `cbor:"4,keyasint"`
	Empty       int     `cbor:"5,keyasint"`
	Hits        uint64  `cbor:"6,keyasint"`
	Misses      uint64  `cbor:"7,keyasint"`
	HitRate     float64 `cbor:"8,keyasint"`
}

// Capture takes a snapshot of v.
func Capture(v *vm.VM) *Snapshot {
	stats := v.Sites.Stats()
	s := &Snapshot{
		Taken: time.Now().UTC(),
		Limit: v.Options.CacheDepthLimit,
		Totals: Totals{
			CallSites:   stats.TotalCallSites,
			Monomorphic: stats.Monomorphic,
			Polymorphic: stats.Polymorphic,
			Megamorphic: stats.Megamorphic,
			Empty:       stats.Empty,
			Hits:        stats.TotalHits,
			Misses:      stats.TotalMisses,
			HitRate:     stats.HitRate,
		},
	}

	v.Sites.Each(func(id int, site *vm.DispatchSite) {
		ss := SiteSnapshot{
			ID:     id,
			State:  site.State().String(),
			Depth:  site.Depth(),
			Limit:  site.Limit(),
			Hits:   site.Hits(),
			Misses: site.Misses(),
		}
		for _, e := range site.Entries() {
			ss.Guards = append(ss.Guards, e.Guard())
			if e.IsMissing() {
				ss.Missing++
			}
		}
		s.Sites = append(s.Sites, ss)
	})
	sort.Slice(s.Sites, func(i, j int) bool { return s.Sites[i].ID < s.Sites[j].ID })

	for _, name := range v.Globals.Names() {
		g := v.Globals.Lookup(name)
		if g == nil {
			continue
		}
		s.Globals = append(s.Globals, GlobalSnapshot{
			Name:      name,
			Changes:   g.ChangeCount(),
			Assumable: g.IsAssumable(),
			Hooked:    g.IsHooked(),
			Defined:   g.IsDefined(),
		})
	}
	return s
}

// Site returns the snapshot of the site with the given ID.
func (s *Snapshot) Site(id int) (SiteSnapshot, bool) {
	for _, site := range s.Sites {
		if site.ID == id {
			return site, true
		}
	}
	return SiteSnapshot{}, false
}
