//go:build libsql

package db

import (
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLDriver selects the libSQL embedded engine. Only available in binaries
// built with -tags libsql, since it links the native library through cgo.
const LibSQLDriver = "libsql"

func init() {
	drivers[LibSQLDriver] = driverConfig{
		dsn: func(path string) string {
			return "file:" + path
		},
		// A single connection keeps the foreign_keys pragma in force.
		maxOpen: 1,
		setup: func(conn *sql.DB) error {
			if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
				return fmt.Errorf("failed to enable foreign keys: %w", err)
			}
			return nil
		},
	}
}
