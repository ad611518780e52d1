package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

const nodeColumns = `id, osf_id, title, user_id, parent_id, locally_created, created_at, updated_at`

// CreateNode inserts a new project or component.
func (db *DB) CreateNode(ctx context.Context, n *schema.Node) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}

	now := db.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	query := `INSERT INTO nodes (` + nodeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		n.ID,
		n.OSFID,
		n.Title,
		n.UserID,
		nullIfEmpty(n.ParentID),
		boolToInt(n.LocallyCreated),
		formatTime(n.CreatedAt),
		formatTime(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create node %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNode removes a node. Its components and files are removed with it
// through the foreign key cascade.
// Returns nil if the node doesn't exist (idempotent).
func (db *DB) DeleteNode(ctx context.Context, nodeID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, nodeID); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}
	return nil
}

func scanNodes(ctx context.Context, q queryer, userID string) ([]*schema.Node, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*schema.Node
	for rows.Next() {
		var n schema.Node
		var parentID sql.NullString
		var createdAt, updatedAt string
		err := rows.Scan(
			&n.ID,
			&n.OSFID,
			&n.Title,
			&n.UserID,
			&parentID,
			&n.LocallyCreated,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.ParentID = parentID.String
		n.CreatedAt = parseTime(createdAt)
		n.UpdatedAt = parseTime(updatedAt)
		nodes = append(nodes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

// GetNode returns the node with the given id. Path is not computed; use
// Snapshot when paths are needed.
func (db *DB) GetNode(ctx context.Context, nodeID string) (*schema.Node, bool, error) {
	var n schema.Node
	var parentID sql.NullString
	var createdAt, updatedAt string
	err := db.conn.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, nodeID).Scan(
		&n.ID,
		&n.OSFID,
		&n.Title,
		&n.UserID,
		&parentID,
		&n.LocallyCreated,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get node %s: %w", nodeID, err)
	}
	n.ParentID = parentID.String
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, true, nil
}
