package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// HasActivePermission reports whether an active grant exists for
// (user, subject, action).
func (d *DB) HasActivePermission(userID, subject, action string) (bool, error) {
	var n int
	err := d.queryRow(`
		SELECT COUNT(*) FROM permissions
		WHERE user_id = ? AND subject = ? AND action = ? AND status = ?`,
		userID, subject, action, PermActive).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return n > 0, nil
}

// CreatePendingPermission inserts a pending grant and returns its request id
// (perm_<uuid>), which the user quotes back via /approve.
func (d *DB) CreatePendingPermission(userID, subject, action, resource string) (string, error) {
	id := "perm_" + uuid.NewString()
	now := nowMillis()
	err := d.exec(`
		INSERT INTO permissions (permission_id, user_id, subject, action, resource, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, subject, action, resource, PermPending, now, now)
	if err != nil {
		return "", fmt.Errorf("create pending permission: %w", err)
	}
	return id, nil
}

// GrantPermission creates or activates a grant for (user, subject, action).
// Any pending request for the same tuple is activated in place.
func (d *DB) GrantPermission(userID, subject, action, resource string) (string, error) {
	now := nowMillis()

	var existing string
	err := d.queryRow(`
		SELECT permission_id FROM permissions
		WHERE user_id = ? AND subject = ? AND action = ? AND status != ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, subject, action, PermRevoked).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		id := "perm_" + uuid.NewString()
		if err := d.exec(`
			INSERT INTO permissions (permission_id, user_id, subject, action, resource, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, userID, subject, action, resource, PermActive, now, now); err != nil {
			return "", fmt.Errorf("grant permission: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("grant permission: %w", err)
	}

	if err := d.exec(`
		UPDATE permissions SET status = ?, resource = ?, updated_at = ? WHERE permission_id = ?`,
		PermActive, resource, now, existing); err != nil {
		return "", fmt.Errorf("activate permission: %w", err)
	}
	return existing, nil
}

// ApprovePermission activates a pending grant by its request id.
func (d *DB) ApprovePermission(permissionID string) error {
	res, err := d.sql.Exec(d.bind(`
		UPDATE permissions SET status = ?, updated_at = ? WHERE permission_id = ? AND status = ?`),
		PermActive, nowMillis(), permissionID, PermPending)
	if err != nil {
		return fmt.Errorf("approve permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokePermission marks a grant revoked.
func (d *DB) RevokePermission(permissionID string) error {
	res, err := d.sql.Exec(d.bind(`
		UPDATE permissions SET status = ?, updated_at = ? WHERE permission_id = ?`),
		PermRevoked, nowMillis(), permissionID)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPermissions returns grants, optionally filtered by user.
func (d *DB) ListPermissions(userID string) ([]*Permission, error) {
	q := `SELECT permission_id, user_id, subject, action, resource, status, created_at, updated_at
		FROM permissions`
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []*Permission
	for rows.Next() {
		var p Permission
		var created, updated int64
		if err := rows.Scan(&p.PermissionID, &p.UserID, &p.Subject, &p.Action,
			&p.Resource, &p.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		p.CreatedAt = fromMillis(created)
		p.UpdatedAt = fromMillis(updated)
		out = append(out, &p)
	}
	return out, rows.Err()
}
