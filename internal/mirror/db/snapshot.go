package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/osfoffline/osfsync/internal/mirror/pathid"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

// Snapshot loads the logged-in user's complete metadata tree in a single
// read transaction, so the result is consistent even while the writer runs.
//
// Returns schema.ErrNoUser when nobody is logged in.
func (db *DB) Snapshot(ctx context.Context) (*schema.Tree, error) {
	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	user, err := currentUser(ctx, tx)
	if err != nil {
		return nil, err
	}
	nodes, err := scanNodes(ctx, tx, user.ID)
	if err != nil {
		return nil, err
	}
	files, err := scanFiles(ctx, tx, user.ID)
	if err != nil {
		return nil, err
	}

	tree, err := schema.BuildTree(user, nodes, files)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata tree: %w", err)
	}
	return tree, nil
}

// FindByPath resolves a path identity to the Node or File it maps to.
//
// Nodes are matched first, then Files; among Files a live record wins over a
// tombstone. ok is false when nothing matches.
func (db *DB) FindByPath(ctx context.Context, p pathid.Path) (rec schema.Record, ok bool, err error) {
	tree, err := db.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	rec, ok = tree.Find(p)
	return rec, ok, nil
}

// FindParentByPath resolves the entry containing p. ok is false when the
// parent is the sync root itself, lies outside it, or is untracked.
//
// A regular File at the parent location is returned too, so callers can
// reject placing an item under a file.
func (db *DB) FindParentByPath(ctx context.Context, p pathid.Path) (rec schema.Record, ok bool, err error) {
	tree, err := db.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	parent := p.Parent()
	root := tree.Root()
	if parent.Equal(root) || !root.Contains(parent) {
		return nil, false, nil
	}
	rec, ok = tree.Find(parent)
	if !ok {
		rec, ok = tree.Find(parent.WithDir(false))
	}
	return rec, ok, nil
}

// PendingChanges returns files with an unconsumed local change updated at or
// after since, oldest first. A zero since returns every pending file.
func (db *DB) PendingChanges(ctx context.Context, since time.Time) ([]*schema.File, error) {
	tree, err := db.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var pending []*schema.File
	for _, f := range tree.Files {
		if !f.Pending() {
			continue
		}
		if !since.IsZero() && f.UpdatedAt.Before(since) {
			continue
		}
		pending = append(pending, f)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})
	return pending, nil
}

// Stats summarizes the metadata store.
type Stats struct {
	Nodes      int `json:"nodes" yaml:"nodes"`
	Files      int `json:"files" yaml:"files"`
	Folders    int `json:"folders" yaml:"folders"`
	Tombstones int `json:"tombstones" yaml:"tombstones"`
	Pending    int `json:"pending" yaml:"pending"`
}

// Counts returns the current user's row counts for the status command and
// metrics gauges. With nobody logged in every count is zero.
func (db *DB) Counts(ctx context.Context) (Stats, error) {
	var s Stats
	user, err := db.CurrentUser(ctx)
	if errors.Is(err, schema.ErrNoUser) {
		return s, nil
	}
	if err != nil {
		return s, err
	}

	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE user_id = ?`, user.ID).Scan(&s.Nodes)
	if err != nil {
		return s, fmt.Errorf("failed to count nodes: %w", err)
	}

	query := `
	SELECT
		COALESCE(SUM(CASE WHEN type = 'file' AND locally_deleted = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN type = 'folder' AND locally_deleted = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(locally_deleted), 0),
		COALESCE(SUM(CASE WHEN locally_created + locally_renamed + locally_moved + locally_deleted > 0 THEN 1 ELSE 0 END), 0)
	FROM files
	WHERE user_id = ?
	`
	if err := db.conn.QueryRowContext(ctx, query, user.ID).Scan(&s.Files, &s.Folders, &s.Tombstones, &s.Pending); err != nil {
		return s, fmt.Errorf("failed to count files: %w", err)
	}
	return s, nil
}
