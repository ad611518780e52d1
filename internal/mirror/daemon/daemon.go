package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/osfoffline/osfsync/internal/feed"
	"github.com/osfoffline/osfsync/internal/metrics"
	"github.com/osfoffline/osfsync/internal/mirror/content"
	"github.com/osfoffline/osfsync/internal/mirror/db"
	"github.com/osfoffline/osfsync/internal/mirror/dispatch"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/reconcile"
	"github.com/osfoffline/osfsync/internal/mirror/translate"
	"github.com/osfoffline/osfsync/internal/mirror/watcher"
	"github.com/osfoffline/osfsync/internal/ui"
)

// Config holds configuration for the daemon.
type Config struct {
	// ReconcileInterval is how often a full sweep runs. Zero disables
	// periodic sweeps; the startup sweep always runs.
	ReconcileInterval time.Duration

	// MoveWindow is how long the watcher waits to pair a rename.
	MoveWindow time.Duration

	// QueueSize bounds the dispatch queue.
	QueueSize int

	// DefaultProvider is the storage provider for files placed under a project.
	DefaultProvider string

	// MetricsListen, when set, serves Prometheus metrics on this address.
	MetricsListen string

	// FeedListen, when set, streams applied changes to WebSocket clients
	// on this address.
	FeedListen string

	// Logger for daemon activity
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReconcileInterval: 5 * time.Minute,
		MoveWindow:        watcher.DefaultMoveWindow,
		QueueSize:         1024,
		Logger:            logrus.StandardLogger(),
	}
}

// Daemon keeps the metadata store in line with the sync root: a startup
// sweep, then live watcher events, then periodic sweeps to heal anything the
// watcher missed.
type Daemon struct {
	store  *db.DB
	root   string
	config *Config
	log    logrus.FieldLogger

	bridge     *dispatch.Bridge
	reconciler *reconcile.Reconciler
	watcher    *watcher.Watcher
	feed       *feed.Server

	paused   atomic.Bool
	applied  atomic.Uint64
	dropped  atomic.Uint64
	sweepNow chan struct{}
	ready    chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Daemon for the logged-in user's sync root.
//
// The daemon requires:
//   - store: an initialized metadata store with a logged-in user
//   - hasher: content hashing over the real filesystem the watcher sees
//   - alerter: where rejected user actions are reported
//
// Use Start() to begin watching and syncing.
func New(ctx context.Context, store *db.DB, hasher *content.Hasher, alerter ui.Alerter, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	user, err := store.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current user: %w", err)
	}

	log := config.Logger.WithField("component", "daemon")
	tr := translate.New(store, hasher, alerter, config.Logger, translate.Options{
		DefaultProvider: config.DefaultProvider,
	})
	bridge := dispatch.New(tr, config.Logger, config.QueueSize)

	w, err := watcher.New(config.Logger, config.MoveWindow)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		store:      store,
		root:       user.LocalRoot,
		config:     config,
		log:        log,
		bridge:     bridge,
		reconciler: reconcile.New(store, hasher, bridge, config.Logger),
		watcher:    w,
		sweepNow:   make(chan struct{}, 1),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	if config.FeedListen != "" {
		d.feed = feed.NewServer(&feed.Config{Listen: config.FeedListen, Logger: config.Logger})
	}
	bridge.Observe(d.observe)
	return d, nil
}

// Root returns the sync root being mirrored.
func (d *Daemon) Root() string {
	return d.root
}

// Start runs the daemon. It blocks until ctx is cancelled, Stop is called,
// or a component fails.
//
// The daemon will:
// 1. Start the watcher so nothing is missed during the first sweep
// 2. Sweep the whole sync root
// 3. Forward live watcher events to the dispatch bridge
// 4. Sweep again every ReconcileInterval, and when the watcher reports lost events
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()
	defer close(d.done)

	d.log.WithField("root", d.root).Info("starting daemon")

	if err := d.watcher.Start(d.root); err != nil {
		d.cancel()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(d.bridge.Run(gctx))
	})
	g.Go(func() error {
		<-gctx.Done()
		d.bridge.Stop()
		return d.watcher.Stop()
	})
	g.Go(d.forwardEvents(gctx))

	if d.config.MetricsListen != "" {
		g.Go(func() error {
			d.log.WithField("listen", d.config.MetricsListen).Info("serving metrics")
			return metrics.Serve(gctx, d.config.MetricsListen)
		})
	}

	if d.feed != nil {
		g.Go(func() error {
			return d.feed.Serve(gctx)
		})
	}

	g.Go(func() error {
		if err := d.sweep(gctx); err != nil {
			return ignoreCanceled(fmt.Errorf("initial sweep failed: %w", err))
		}
		close(d.ready)
		return d.sweepLoop(gctx)
	})

	err := g.Wait()
	d.log.Info("daemon stopped")
	return err
}

// Stop cancels a running daemon and waits for it to exit.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.mu.Unlock()

	d.log.Info("stopping daemon")
	cancel()
	<-d.done
	return nil
}

// Ready is closed once the startup sweep has been applied.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Pause stops applying live watcher events. Events seen while paused are
// dropped; Resume sweeps to pick up what they described.
func (d *Daemon) Pause() {
	if !d.paused.Swap(true) {
		d.log.Info("paused")
	}
}

// Resume undoes Pause and schedules a sweep.
func (d *Daemon) Resume() {
	if d.paused.Swap(false) {
		d.log.Info("resumed")
		d.RequestSweep()
	}
}

// Paused reports whether live events are being dropped.
func (d *Daemon) Paused() bool {
	return d.paused.Load()
}

// RequestSweep schedules a full sweep. Requests made while one is already
// pending are merged.
func (d *Daemon) RequestSweep() {
	select {
	case d.sweepNow <- struct{}{}:
	default:
	}
}

// Applied returns how many notifications the bridge applied successfully.
func (d *Daemon) Applied() uint64 {
	return d.applied.Load()
}

// Dropped returns how many live events were discarded while paused.
func (d *Daemon) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Daemon) observe(n events.Notification, err error, elapsed time.Duration) {
	if err == nil {
		d.applied.Add(1)
	}
	if d.feed != nil {
		d.feed.Broadcast(feed.NewChange(n, dispatch.Result(err), err))
	}
}

// FeedAddr returns the change feed's listening address, or "" when the feed
// is disabled.
func (d *Daemon) FeedAddr() string {
	if d.feed == nil {
		return ""
	}
	return d.feed.Addr()
}

// sweep runs one full sweep and publishes its outcome.
func (d *Daemon) sweep(ctx context.Context) error {
	res, err := d.reconciler.Sweep(ctx, "")
	if d.feed != nil && ctx.Err() == nil {
		d.feed.Broadcast(feed.NewSweep(res.Planned, res.Duration, err))
	}
	if err != nil {
		return err
	}
	d.publishCounts(ctx)
	return nil
}

// forwardEvents feeds watcher notifications and errors into the daemon.
func (d *Daemon) forwardEvents(ctx context.Context) func() error {
	return func() error {
		evs, errs := d.watcher.Events(), d.watcher.Errors()
		for evs != nil || errs != nil {
			select {
			case n, ok := <-evs:
				if !ok {
					evs = nil
					continue
				}
				if d.paused.Load() {
					d.dropped.Add(1)
					d.log.WithField("event", n.String()).Debug("paused, dropping event")
					continue
				}
				if err := d.bridge.Submit(ctx, n); err != nil {
					if ctx.Err() != nil || errors.Is(err, dispatch.ErrStopped) {
						return nil
					}
					return fmt.Errorf("failed to submit %s: %w", n, err)
				}

			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				d.log.WithError(err).Warn("watcher error, scheduling sweep")
				d.RequestSweep()
			}
		}
		return nil
	}
}

func (d *Daemon) sweepLoop(ctx context.Context) error {
	var tick <-chan time.Time
	if d.config.ReconcileInterval > 0 {
		ticker := time.NewTicker(d.config.ReconcileInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-d.sweepNow:
		}

		if d.paused.Load() {
			continue
		}
		if err := d.sweep(ctx); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

func (d *Daemon) publishCounts(ctx context.Context) {
	stats, err := d.store.Counts(ctx)
	if err != nil {
		d.log.WithError(err).Debug("failed to count store records")
		return
	}
	metrics.SetStoreRecords("node", stats.Nodes)
	metrics.SetStoreRecords("file", stats.Files)
	metrics.SetStoreRecords("folder", stats.Folders)
	metrics.SetStoreRecords("tombstone", stats.Tombstones)
	metrics.SetStoreRecords("pending", stats.Pending)

	if d.feed != nil {
		d.feed.Broadcast(feed.NewStats(stats))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
