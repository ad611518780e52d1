package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/osfoffline/osfsync/internal/mirror/content"
	"github.com/osfoffline/osfsync/internal/mirror/dispatch"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/reconcile"
	"github.com/osfoffline/osfsync/internal/mirror/translate"
	"github.com/osfoffline/osfsync/internal/ui"
)

var reconcileDryRun bool

var reconcileCmd = &cobra.Command{
	Use:     "reconcile [PATH]",
	GroupID: "sync",
	Short:   "Sweep the sync folder once",
	Long: `Compare the sync folder (or the subtree at PATH) against the store and
apply whatever changed.

With --dry-run the planned changes are printed and nothing is applied.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		var path string
		if len(args) == 1 {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				fatalf("resolving %s: %v", args[0], err)
			}
			path = abs
		}

		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		hasher := content.NewHasher(afero.NewOsFs(), cfg.Sync.HashChunkSize)
		tr := translate.New(store, hasher, ui.NewTerminalAlerter(os.Stderr), log, translate.Options{
			DefaultProvider: cfg.Sync.DefaultProvider,
		})
		bridge := dispatch.New(tr, log, cfg.Sync.QueueSize)
		rec := reconcile.New(store, hasher, bridge, log)

		if reconcileDryRun {
			plan, err := rec.PlanPath(ctx, path)
			if err != nil {
				fatalf("%v", err)
			}
			if len(plan) == 0 {
				fmt.Printf("%s Nothing to do\n", ui.RenderPass("✓"))
				return
			}
			for _, n := range plan {
				fmt.Printf("  %s\n", n)
			}
			fmt.Printf("\n%d changes planned %s\n", len(plan), ui.RenderMuted("(dry run)"))
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = bridge.Run(runCtx) }()

		var failed int
		bridge.Observe(func(_ events.Notification, err error, _ time.Duration) {
			if dispatch.Result(err) == dispatch.ResultFailed {
				failed++
			}
		})

		res, err := rec.Sweep(runCtx, path)
		if err != nil {
			if errors.Is(err, reconcile.ErrRootMissing) {
				fatalf("%v (run 'osfsync init' to create it)", err)
			}
			fatalf("%v", err)
		}

		mark := ui.RenderPass("✓")
		if failed > 0 {
			mark = ui.RenderWarn("⚠")
		}
		fmt.Printf("%s Sweep complete in %v\n", mark, res.Duration.Round(time.Millisecond))
		fmt.Printf("   Changes: %d\n", res.Planned)
		if failed > 0 {
			fmt.Printf("   Failed: %d (see log)\n", failed)
		}
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Print planned changes without applying them")
	rootCmd.AddCommand(reconcileCmd)
}
