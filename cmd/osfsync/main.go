// Command osfsync mirrors a local OSF sync folder into a metadata store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osfoffline/osfsync/internal/config"
	"github.com/osfoffline/osfsync/internal/logging"
	"github.com/osfoffline/osfsync/internal/mirror/db"
	"github.com/osfoffline/osfsync/internal/ui"
)

var (
	configPath string
	logLevel   string
	noColor    bool

	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "osfsync",
	Short: "Local mirror of an OSF sync folder",
	Long: `osfsync watches a local OSF sync folder and records every local change
in a metadata store: files created, modified, moved, renamed and deleted
under your projects and their components.

A background worker reads the pending changes from the store and uploads
them. osfsync itself never talks to the network.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		log, logCloser, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "inspect", Title: "Inspect:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openStore opens the configured metadata store and makes sure its schema
// exists.
func openStore(ctx context.Context) (*db.DB, error) {
	store, err := db.OpenWithDriver(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.InitSchemaContext(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return store, nil
}

// fatalf reports an error and exits, the way every command ends on failure.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if logCloser != nil {
		_ = logCloser.Close()
	}
	os.Exit(1)
}
