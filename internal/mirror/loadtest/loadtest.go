// Package loadtest exercises the mirror end to end against a generated sync
// folder.
//
// It populates a tree of projects, folders and files, sweeps it into a fresh
// store through the real translator and dispatch bridge, then has several
// producers rewrite files concurrently and submit live notifications. A
// final sweep must plan nothing: anything it finds is a change the pipeline
// lost.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/osfoffline/osfsync/internal/mirror/content"
	"github.com/osfoffline/osfsync/internal/mirror/db"
	"github.com/osfoffline/osfsync/internal/mirror/dispatch"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/reconcile"
	"github.com/osfoffline/osfsync/internal/mirror/translate"
	"github.com/osfoffline/osfsync/internal/ui"
)

// Options shapes the generated tree and the concurrent phase.
type Options struct {
	Projects          int
	FoldersPerProject int
	FilesPerFolder    int
	FileSize          int

	// Producers rewrite files concurrently, each owning a disjoint slice of
	// the generated files.
	Producers int

	QueueSize int
}

// DefaultOptions returns a small but non-trivial tree.
func DefaultOptions() Options {
	return Options{
		Projects:          4,
		FoldersPerProject: 5,
		FilesPerFolder:    10,
		FileSize:          1024,
		Producers:         8,
		QueueSize:         256,
	}
}

// Tree lists what Populate created.
type Tree struct {
	Projects int
	Folders  int
	Files    []string
}

// LatencyStats captures per-notification apply times.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	Total     int
	Failed    int
	Durations []time.Duration
}

// Report is the outcome of Run.
type Report struct {
	Tree     Tree
	Seed     reconcile.Result
	Live     int
	LiveTime time.Duration
	Resweep  reconcile.Result
	Latency  *LatencyStats
	Store    db.Stats
}

// Fixpoint reports whether the final sweep found nothing left to do.
func (r *Report) Fixpoint() bool {
	return r.Resweep.Planned == 0
}

// Populate writes a deterministic tree under root: Projects top-level
// folders, each with FoldersPerProject subfolders of FilesPerFolder files.
func Populate(fsys afero.Fs, root string, opts Options) (*Tree, error) {
	rng := rand.New(rand.NewSource(42))
	tree := &Tree{}

	for p := 0; p < opts.Projects; p++ {
		project := filepath.Join(root, fmt.Sprintf("project-%02d", p))
		if err := fsys.MkdirAll(project, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", project, err)
		}
		tree.Projects++

		for f := 0; f < opts.FoldersPerProject; f++ {
			folder := filepath.Join(project, fmt.Sprintf("folder-%02d", f))
			if err := fsys.MkdirAll(folder, 0755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", folder, err)
			}
			tree.Folders++

			for i := 0; i < opts.FilesPerFolder; i++ {
				path := filepath.Join(folder, fmt.Sprintf("file-%03d.dat", i))
				if err := afero.WriteFile(fsys, path, payload(rng, opts.FileSize), 0644); err != nil {
					return nil, fmt.Errorf("failed to write %s: %w", path, err)
				}
				tree.Files = append(tree.Files, path)
			}
		}
	}
	return tree, nil
}

// Run populates root on hasher's filesystem and drives the mirror against
// store, which must already have a logged-in user whose sync root is root.
func Run(ctx context.Context, store *db.DB, hasher *content.Hasher, root string, opts Options, log logrus.FieldLogger) (*Report, error) {
	tree, err := Populate(hasher.Fs(), root, opts)
	if err != nil {
		return nil, err
	}

	tr := translate.New(store, hasher, ui.NewTerminalAlerter(io.Discard), log, translate.Options{})
	bridge := dispatch.New(tr, log, opts.QueueSize)
	rec := reconcile.New(store, hasher, bridge, log)

	var mu sync.Mutex
	var durations []time.Duration
	var failed int
	bridge.Observe(func(_ events.Notification, err error, elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		durations = append(durations, elapsed)
		if dispatch.Result(err) == dispatch.ResultFailed {
			failed++
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-bridge.Done()
	}()
	go func() { _ = bridge.Run(runCtx) }()

	report := &Report{Tree: *tree}

	report.Seed, err = rec.Sweep(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("seed sweep failed: %w", err)
	}

	start := time.Now()
	report.Live, err = rewrite(ctx, hasher.Fs(), bridge, tree.Files, opts)
	if err != nil {
		return nil, err
	}
	if err := bridge.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush live changes: %w", err)
	}
	report.LiveTime = time.Since(start)

	report.Resweep, err = rec.Sweep(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("final sweep failed: %w", err)
	}

	report.Store, err = store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	report.Latency = computeLatencyStats(durations)
	report.Latency.Failed = failed
	mu.Unlock()

	return report, nil
}

// rewrite has opts.Producers goroutines overwrite their share of files and
// submit a Modified notification for each one.
func rewrite(ctx context.Context, fsys afero.Fs, bridge *dispatch.Bridge, files []string, opts Options) (int, error) {
	producers := opts.Producers
	if producers <= 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(1000 + p)))
			for i := p; i < len(files); i += producers {
				if err := afero.WriteFile(fsys, files[i], payload(rng, opts.FileSize), 0644); err != nil {
					return fmt.Errorf("producer %d failed to write %s: %w", p, files[i], err)
				}
				if err := bridge.Submit(gctx, events.NewModified(files[i], false)); err != nil {
					return fmt.Errorf("producer %d failed to submit: %w", p, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(files), nil
}

func payload(rng *rand.Rand, size int) []byte {
	if size <= 0 {
		size = 1
	}
	b := make([]byte, size)
	_, _ = rng.Read(b)
	return b
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(sorted)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Total:     len(sorted),
		Durations: sorted,
	}
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Tree:     %d projects, %d folders, %d files\n", r.Tree.Projects, r.Tree.Folders, len(r.Tree.Files))
	fmt.Fprintf(w, "Seed:     %d changes in %v\n", r.Seed.Planned, r.Seed.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Live:     %d changes in %v\n", r.Live, r.LiveTime.Round(time.Millisecond))
	fmt.Fprintf(w, "Resweep:  %d changes in %v\n", r.Resweep.Planned, r.Resweep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Store:    %d nodes, %d folders, %d files\n", r.Store.Nodes, r.Store.Folders, r.Store.Files)
	fmt.Fprintf(w, "\nApply latency:\n")
	fmt.Fprintf(w, "  Total:         %d\n", r.Latency.Total)
	fmt.Fprintf(w, "  Failed:        %d\n", r.Latency.Failed)
	fmt.Fprintf(w, "  Min:           %v\n", r.Latency.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", r.Latency.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", r.Latency.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", r.Latency.P95)
	fmt.Fprintf(w, "  P99:           %v\n", r.Latency.P99)
	fmt.Fprintf(w, "  Max:           %v\n", r.Latency.Max)
}
