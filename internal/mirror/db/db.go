// Package db provides the embedded SQLite metadata store for the sync mirror.
//
// The store owns the User, Node and File rows that mirror the local sync
// folder. It runs in embedded mode with WAL so that read-only snapshots
// (reconciliation sweeps, CLI commands) never block the single writer.
//
// Architecture:
//   - Database file: $XDG_DATA_HOME/osfsync/mirror.db by default
//   - WAL mode: concurrent readers during writes
//   - Schema: users, nodes, files tables
//   - Paths are not stored; they are computed from parent links on load
//
// Writer discipline:
//  1. Only the dispatch bridge's worker calls mutating methods
//  2. Every mutating method commits atomically on its own
//  3. Readers outside the worker use Snapshot
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultDriver is the database/sql driver used when none is configured.
const DefaultDriver = "sqlite3"

// driverConfig describes how to connect through one database/sql driver.
type driverConfig struct {
	dsn func(path string) string
	// setup runs once after the pool is opened, for drivers whose pragmas
	// cannot travel in the DSN.
	setup func(conn *sql.DB) error
	// maxOpen caps the pool; zero keeps the default.
	maxOpen int
}

// drivers maps a registered driver name to its connection settings.
var drivers = map[string]driverConfig{
	DefaultDriver: {
		dsn: func(path string) string {
			// Pragmas in the DSN apply to every pooled connection, not just the first.
			return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_txlock=immediate", path)
		},
	},
}

// Drivers returns the names of the database drivers compiled into this binary.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DB wraps the SQLite connection with mirror-specific queries.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a new database connection at the specified path using the
// default driver.
//
// If the database doesn't exist, it is created. The caller must call
// InitSchema before use and Close when done.
//
// Example:
//
//	store, err := db.Open("/home/me/.local/share/osfsync/mirror.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	return OpenWithDriver(DefaultDriver, path)
}

// OpenWithDriver opens the database with a specific registered driver.
func OpenWithDriver(driver, path string) (*DB, error) {
	cfg, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (available: %s)", driver, strings.Join(Drivers(), ", "))
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open(driver, cfg.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpen := cfg.maxOpen
	if maxOpen == 0 {
		maxOpen = 8
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(min(4, maxOpen))
	if cfg.setup == nil {
		// Connections configured by setup must live as long as the pool.
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if cfg.setup != nil {
		if err := cfg.setup(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to configure %s connection: %w", driver, err)
		}
	}

	return &DB{
		conn: conn,
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		osf_id TEXT NOT NULL DEFAULT '',
		local_root TEXT NOT NULL,
		logged_in INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		osf_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		user_id TEXT NOT NULL,
		parent_id TEXT,
		locally_created INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (parent_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		osf_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('file', 'folder')),
		hash TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		user_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		parent_id TEXT,

		locally_created INTEGER NOT NULL DEFAULT 0,
		locally_renamed INTEGER NOT NULL DEFAULT 0,
		locally_moved INTEGER NOT NULL DEFAULT 0,
		locally_deleted INTEGER NOT NULL DEFAULT 0,

		previous_provider TEXT NOT NULL DEFAULT '',
		previous_node_id TEXT NOT NULL DEFAULT '',

		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE,
		FOREIGN KEY (parent_id) REFERENCES files(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_user ON nodes(user_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
	CREATE INDEX IF NOT EXISTS idx_files_node ON files(node_id);
	CREATE INDEX IF NOT EXISTS idx_files_parent ON files(parent_id);
	CREATE INDEX IF NOT EXISTS idx_files_updated ON files(updated_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// boolToInt converts a flag to its SQLite INTEGER form.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullIfEmpty stores an empty parent id as NULL so foreign keys are not checked.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
