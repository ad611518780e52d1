package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

const fileColumns = `id, osf_id, name, type, hash, provider, user_id, node_id, parent_id,
	locally_created, locally_renamed, locally_moved, locally_deleted,
	previous_provider, previous_node_id, created_at, updated_at`

// descendantsCTE selects the ids of every file below the file bound to the
// first parameter.
const descendantsCTE = `
	WITH RECURSIVE subtree(id) AS (
		SELECT id FROM files WHERE parent_id = ?
		UNION ALL
		SELECT f.id FROM files f JOIN subtree s ON f.parent_id = s.id
	)`

// CreateFile inserts a new file or folder.
func (db *DB) CreateFile(ctx context.Context, f *schema.File) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid file: %w", err)
	}

	now := db.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	query := `INSERT INTO files (` + fileColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		f.ID,
		f.OSFID,
		f.Name,
		string(f.Type),
		f.Hash,
		f.Provider,
		f.UserID,
		f.NodeID,
		nullIfEmpty(f.ParentID),
		boolToInt(f.LocallyCreated),
		boolToInt(f.LocallyRenamed),
		boolToInt(f.LocallyMoved),
		boolToInt(f.LocallyDeleted),
		f.PreviousProvider,
		f.PreviousNodeID,
		formatTime(f.CreatedAt),
		formatTime(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", f.ID, err)
	}
	return nil
}

// UpdateFile writes every mutable column of f.
//
// When f is a folder, its descendants follow it: their node and provider are
// set to f's, so a folder moved into another node carries its contents along.
func (db *DB) UpdateFile(ctx context.Context, f *schema.File) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid file: %w", err)
	}
	f.UpdatedAt = db.now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
	UPDATE files SET
		osf_id = ?, name = ?, type = ?, hash = ?, provider = ?,
		node_id = ?, parent_id = ?,
		locally_created = ?, locally_renamed = ?, locally_moved = ?, locally_deleted = ?,
		previous_provider = ?, previous_node_id = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, query,
		f.OSFID,
		f.Name,
		string(f.Type),
		f.Hash,
		f.Provider,
		f.NodeID,
		nullIfEmpty(f.ParentID),
		boolToInt(f.LocallyCreated),
		boolToInt(f.LocallyRenamed),
		boolToInt(f.LocallyMoved),
		boolToInt(f.LocallyDeleted),
		f.PreviousProvider,
		f.PreviousNodeID,
		formatTime(f.UpdatedAt),
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file %s: %w", f.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", f.ID, schema.ErrNotFound)
	}

	if f.IsFolder() {
		query := descendantsCTE + `
		UPDATE files SET node_id = ?, provider = ?, updated_at = ?
		WHERE id IN (SELECT id FROM subtree) AND (node_id != ? OR provider != ?)
		`
		_, err := tx.ExecContext(ctx, query,
			f.ID, f.NodeID, f.Provider, formatTime(f.UpdatedAt), f.NodeID, f.Provider)
		if err != nil {
			return fmt.Errorf("failed to update descendants of %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file update: %w", err)
	}
	return nil
}

// SoftDeleteFile tombstones a file, and for a folder every file below it.
// Tombstones stay in the store until the downstream sync worker consumes them.
func (db *DB) SoftDeleteFile(ctx context.Context, fileID string) error {
	now := formatTime(db.now())

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET locally_deleted = 1, updated_at = ? WHERE id = ?`, now, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", fileID, schema.ErrNotFound)
	}

	query := descendantsCTE + `
	UPDATE files SET locally_deleted = 1, updated_at = ?
	WHERE id IN (SELECT id FROM subtree) AND locally_deleted = 0
	`
	if _, err := tx.ExecContext(ctx, query, fileID, now); err != nil {
		return fmt.Errorf("failed to delete descendants of %s: %w", fileID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// DeleteFile removes a file row and, through the cascade, everything below it.
// Returns nil if the file doesn't exist (idempotent).
func (db *DB) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileID, err)
	}
	return nil
}

func scanFiles(ctx context.Context, q queryer, userID string) ([]*schema.File, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*schema.File
	for rows.Next() {
		var f schema.File
		var typ string
		var parentID sql.NullString
		var createdAt, updatedAt string
		err := rows.Scan(
			&f.ID,
			&f.OSFID,
			&f.Name,
			&typ,
			&f.Hash,
			&f.Provider,
			&f.UserID,
			&f.NodeID,
			&parentID,
			&f.LocallyCreated,
			&f.LocallyRenamed,
			&f.LocallyMoved,
			&f.LocallyDeleted,
			&f.PreviousProvider,
			&f.PreviousNodeID,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		f.Type = schema.FileType(typ)
		f.ParentID = parentID.String
		f.CreatedAt = parseTime(createdAt)
		f.UpdatedAt = parseTime(updatedAt)
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return files, nil
}
