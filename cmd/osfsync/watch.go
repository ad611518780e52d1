package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/osfoffline/osfsync/internal/mirror/content"
	"github.com/osfoffline/osfsync/internal/mirror/daemon"
	"github.com/osfoffline/osfsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Mirror the sync folder until interrupted",
	Long: `Run the mirror in the foreground.

The daemon will:
  1. Sweep the whole sync folder and record anything that changed while it
     was not running
  2. Watch the folder and record changes as they happen
  3. Sweep again every sync.reconcile_interval to heal missed events
  4. Serve Prometheus metrics when metrics.enabled is set

On Unix, SIGUSR1 pauses recording live changes, SIGUSR2 resumes (and sweeps
to catch up), and SIGHUP sweeps immediately.

Stop it with Ctrl-C.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		user, err := store.CurrentUser(ctx)
		if err != nil {
			fatalf("%v (run 'osfsync init' first)", err)
		}
		if err := os.MkdirAll(user.LocalRoot, 0755); err != nil {
			fatalf("creating sync folder: %v", err)
		}

		dcfg := daemon.DefaultConfig()
		dcfg.ReconcileInterval = cfg.Sync.ReconcileInterval
		dcfg.MoveWindow = cfg.Sync.MoveWindow
		dcfg.QueueSize = cfg.Sync.QueueSize
		dcfg.DefaultProvider = cfg.Sync.DefaultProvider
		dcfg.Logger = log
		if cfg.Metrics.Enabled {
			dcfg.MetricsListen = cfg.Metrics.Listen
		}
		if cfg.Feed.Enabled {
			dcfg.FeedListen = cfg.Feed.Listen
		}

		hasher := content.NewHasher(afero.NewOsFs(), cfg.Sync.HashChunkSize)
		d, err := daemon.New(ctx, store, hasher, ui.NewTerminalAlerter(os.Stderr), dcfg)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Mirroring %s\n", ui.RenderAccent("🔄"), d.Root())
		if dcfg.MetricsListen != "" {
			fmt.Printf("   Metrics: http://%s/metrics\n", dcfg.MetricsListen)
		}
		if dcfg.FeedListen != "" {
			fmt.Printf("   Feed: ws://%s/ws\n", dcfg.FeedListen)
		}

		watchControl(ctx, d)

		start := time.Now()
		go func() {
			select {
			case <-d.Ready():
				fmt.Printf("%s Initial sweep complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
			case <-ctx.Done():
			}
		}()

		if err := d.Start(ctx); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Stopped after %v (%d changes applied)\n", ui.RenderMuted("■"), time.Since(start).Round(time.Second), d.Applied())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
