// garnet CLI - runs a synthetic workload against the runtime core and reports
// inline cache and global variable statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/dc0d/onexit"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/garnet/config"
	"github.com/chazu/garnet/vm"
	"github.com/chazu/garnet/vm/profile"
)

func main() {
	configPath := flag.String("config", "", "Path to garnet.toml (default: search upwards from the working directory)")
	verbose := flag.Bool("v", false, "Verbose output")
	threads := flag.Int("threads", 4, "Number of dispatching threads")
	iterations := flag.Int("n", 10000, "Dispatches per thread")
	shapes := flag.Int("shapes", 3, "Number of receiver classes at the polymorphic site")
	queueSize := flag.Int("queue", 16, "Capacity of the result queue")
	snapshotPath := flag.String("snapshot", "", "Write a CBOR statistics snapshot to this file")
	dumpPath := flag.String("dump", "", "Print a snapshot written earlier and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: garnet [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a dispatch/queue workload and prints runtime statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  garnet -threads 8 -shapes 12      # Drive the polymorphic site megamorphic\n")
		fmt.Fprintf(os.Stderr, "  garnet -snapshot run.cbor         # Save statistics\n")
		fmt.Fprintf(os.Stderr, "  garnet -dump run.cbor             # Inspect saved statistics\n")
	}
	flag.Parse()

	if *dumpPath != "" {
		snap, err := profile.ReadFile(*dumpPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printSnapshot(snap)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	verbosity := cfg.Log.Verbosity
	if *verbose && verbosity < 2 {
		verbosity = 2
	}
	commonlog.Configure(verbosity, cfg.LogPath())

	opts, err := cfg.Options()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		if cfg.Path != "" {
			fmt.Printf("Loaded %s\n", cfg.Path)
		}
		fmt.Printf("Options: cache depth %d, global invalidations %d, missing %s\n",
			opts.CacheDepthLimit, opts.GlobalVariableMaxInvalidations, opts.Missing)
	}

	// onexit traps the termination signals and only runs what is registered,
	// so the run must be cancelled here for a signal to end it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	onexit.Register(cancel)

	w := &workload{
		vm:         vm.NewVM(opts),
		threads:    *threads,
		iterations: *iterations,
		shapes:     *shapes,
		queueSize:  *queueSize,
	}
	sum, snap, err := execute(ctx, w, *snapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, vm.ErrInterrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}

	fmt.Printf("Checksum: %d\n", sum)
	printSnapshot(snap)
	if *verbose && *snapshotPath != "" {
		fmt.Printf("Wrote %s\n", *snapshotPath)
	}
}

// execute runs the workload and captures its statistics. The snapshot is
// written even when the run fails, so an interrupted run keeps what it gathered.
func execute(ctx context.Context, w *workload, snapshotPath string) (int64, *profile.Snapshot, error) {
	sum, err := w.run(ctx)
	snap := profile.Capture(w.vm)
	if snapshotPath != "" {
		if werr := profile.WriteFile(snapshotPath, snap); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return sum, snap, err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

func printSnapshot(s *profile.Snapshot) {
	t := s.Totals
	fmt.Printf("Call sites: %d (mono %d, poly %d, mega %d, empty %d)\n",
		t.CallSites, t.Monomorphic, t.Polymorphic, t.Megamorphic, t.Empty)
	fmt.Printf("Hits: %d  Misses: %d  Hit rate: %.2f%%\n", t.Hits, t.Misses, t.HitRate)
	for _, site := range s.Sites {
		fmt.Printf("  site %-3d %-13s depth %d/%d  hits %-8d misses %-8d guards %v\n",
			site.ID, site.State, site.Depth, site.Limit, site.Hits, site.Misses, site.Guards)
	}
	globals := append([]profile.GlobalSnapshot(nil), s.Globals...)
	sort.Slice(globals, func(i, j int) bool { return globals[i].Name < globals[j].Name })
	for _, g := range globals {
		fmt.Printf("  %-10s changes %-4d assumable %-5t hooked %t\n", g.Name, g.Changes, g.Assumable, g.Hooked)
	}
}
