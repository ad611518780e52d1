// Package config loads osfsync settings from file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete osfsync configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OSFSYNC_*)
//  2. Configuration file (TOML)
//  3. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Feed    FeedConfig    `mapstructure:"feed"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn warning error"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path. Files are rotated.
	Output string `mapstructure:"output" validate:"required"`

	// Rotation settings, only used when Output is a file.
	MaxSizeMB  int  `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int  `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool `mapstructure:"compress"`
}

// StoreConfig selects the metadata database.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `mapstructure:"path" validate:"required"`

	// Driver is the database/sql driver name. "libsql" requires a binary
	// built with -tags libsql.
	Driver string `mapstructure:"driver" validate:"required"`
}

// SyncConfig controls the mirror itself.
type SyncConfig struct {
	// Root is the local sync folder. Used by init when creating the user;
	// afterwards the logged-in user's root is authoritative.
	Root string `mapstructure:"root" validate:"required"`

	// DefaultProvider is assigned to files created directly in a node.
	DefaultProvider string `mapstructure:"default_provider" validate:"required"`

	// ReconcileInterval is the period between background sweeps.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`

	// MoveWindow is how long a rename waits for its matching create before
	// it is reported as a delete.
	MoveWindow time.Duration `mapstructure:"move_window" validate:"gt=0"`

	// QueueSize is the dispatch bridge buffer.
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`

	// HashChunkSize is the read size used when hashing file contents.
	HashChunkSize int `mapstructure:"hash_chunk_size" validate:"gte=512"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// FeedConfig controls the WebSocket change feed consumed by the upload worker.
type FeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches $XDG_CONFIG_HOME/osfsync/config.toml; a
// missing file there is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: OSFSYNC_SYNC_ROOT=/data/OSF
	v.SetEnvPrefix("OSFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Registering every key lets Unmarshal see environment overrides for
	// keys the file does not mention.
	for key, value := range flatten(Default()) {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(ConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("toml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// ConfigDir returns $XDG_CONFIG_HOME/osfsync, falling back to ~/.config/osfsync.
func ConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "osfsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "osfsync")
}

// DataDir returns $XDG_DATA_HOME/osfsync, falling back to ~/.local/share/osfsync.
func DataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "osfsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "osfsync")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}
