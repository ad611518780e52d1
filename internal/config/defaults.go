package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/osfoffline/osfsync/internal/mirror/db"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration fields.
// Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStoreDefaults(&cfg.Store)
	applySyncDefaults(&cfg.Sync)
	applyMetricsDefaults(&cfg.Metrics)
	applyFeedDefaults(&cfg.Feed)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 20
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 28
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(DataDir(), "mirror.db")
	}
	if cfg.Driver == "" {
		cfg.Driver = db.DefaultDriver
	}
}

func applySyncDefaults(cfg *SyncConfig) {
	if cfg.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Root = filepath.Join(home, "OSF")
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = schema.DefaultProvider
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.MoveWindow == 0 {
		cfg.MoveWindow = 250 * time.Millisecond
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	if cfg.HashChunkSize == 0 {
		cfg.HashChunkSize = 64 * 1024
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:9464"
	}
}

func applyFeedDefaults(cfg *FeedConfig) {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:9465"
	}
}

// flatten maps every setting to its dotted viper key. Durations are written
// as strings so they read back through the same decode hook as file values.
func flatten(cfg *Config) map[string]any {
	return map[string]any{
		"logging.level":        cfg.Logging.Level,
		"logging.format":       cfg.Logging.Format,
		"logging.output":       cfg.Logging.Output,
		"logging.max_size_mb":  cfg.Logging.MaxSizeMB,
		"logging.max_backups":  cfg.Logging.MaxBackups,
		"logging.max_age_days": cfg.Logging.MaxAgeDays,
		"logging.compress":     cfg.Logging.Compress,

		"store.path":   cfg.Store.Path,
		"store.driver": cfg.Store.Driver,

		"sync.root":               cfg.Sync.Root,
		"sync.default_provider":   cfg.Sync.DefaultProvider,
		"sync.reconcile_interval": cfg.Sync.ReconcileInterval.String(),
		"sync.move_window":        cfg.Sync.MoveWindow.String(),
		"sync.queue_size":         cfg.Sync.QueueSize,
		"sync.hash_chunk_size":    cfg.Sync.HashChunkSize,

		"metrics.enabled": cfg.Metrics.Enabled,
		"metrics.listen":  cfg.Metrics.Listen,

		"feed.enabled": cfg.Feed.Enabled,
		"feed.listen":  cfg.Feed.Listen,
	}
}
