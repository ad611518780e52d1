package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

const userColumns = `id, full_name, osf_id, local_root, logged_in, created_at, updated_at`

// UpsertUser inserts or updates a user. CreatedAt and UpdatedAt are filled in
// when zero.
func (db *DB) UpsertUser(ctx context.Context, u *schema.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}

	now := db.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	query := `
	INSERT INTO users (` + userColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		full_name = excluded.full_name,
		osf_id = excluded.osf_id,
		local_root = excluded.local_root,
		logged_in = excluded.logged_in,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		u.ID,
		u.FullName,
		u.OSFID,
		u.LocalRoot,
		boolToInt(u.LoggedIn),
		formatTime(u.CreatedAt),
		formatTime(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

// Login marks the user as the single logged-in user, logging out any other.
func (db *DB) Login(ctx context.Context, userID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET logged_in = 0 WHERE id != ?`, userID); err != nil {
		return fmt.Errorf("failed to log out users: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE users SET logged_in = 1, updated_at = ? WHERE id = ?`,
		formatTime(db.now()), userID)
	if err != nil {
		return fmt.Errorf("failed to log in user %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, schema.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit login: %w", err)
	}
	return nil
}

// CurrentUser returns the logged-in user.
//
// Returns schema.ErrNoUser when nobody is logged in, and an error when more
// than one user claims to be.
func (db *DB) CurrentUser(ctx context.Context) (*schema.User, error) {
	return currentUser(ctx, db.conn)
}

// queryer is the read surface shared by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func currentUser(ctx context.Context, q queryer) (*schema.User, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE logged_in = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query current user: %w", err)
	}
	defer rows.Close()

	var users []*schema.User
	for rows.Next() {
		var u schema.User
		var createdAt, updatedAt string
		if err := rows.Scan(&u.ID, &u.FullName, &u.OSFID, &u.LocalRoot, &u.LoggedIn, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.CreatedAt = parseTime(createdAt)
		u.UpdatedAt = parseTime(updatedAt)
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	switch len(users) {
	case 0:
		return nil, schema.ErrNoUser
	case 1:
		return users[0], nil
	default:
		return nil, fmt.Errorf("%d users are logged in, expected exactly one", len(users))
	}
}
