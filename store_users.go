package pressli

import (
	"context"
	"database/sql"
	"strings"
)

const userColumns = `u.id, u.username, u.email, u.display_name, u.password_hash, u.created_at, u.updated_at,
    r.id, r.name, r.label, r.capabilities`

const userFrom = ` FROM users u JOIN roles r ON r.id = u.role_id`

func scanUser(row scanner) (User, error) {
	var u User
	var created, updated, caps string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash, &created, &updated,
		&u.Role.ID, &u.Role.Name, &u.Role.Label, &caps)
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	u.Role.Capabilities = splitCaps(caps)
	return u, nil
}

func splitCaps(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// ListRoles returns every role, most privileged first.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, label, capabilities FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var r Role
		var caps string
		if err := rows.Scan(&r.ID, &r.Name, &r.Label, &caps); err != nil {
			return nil, err
		}
		r.Capabilities = splitCaps(caps)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRoleByName returns a role.
func (s *Store) GetRoleByName(ctx context.Context, name string) (Role, error) {
	var r Role
	var caps string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, label, capabilities FROM roles WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &r.Label, &caps)
	r.Capabilities = splitCaps(caps)
	return r, err
}

// ListUsers returns non-deleted users, optionally filtered by role name and
// a username/email/display name search.
func (s *Store) ListUsers(ctx context.Context, role, search string) ([]User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.deleted_at IS NULL`
	var args []any
	if role != "" {
		query += ` AND r.name = ?`
		args = append(args, role)
	}
	if search = strings.TrimSpace(search); search != "" {
		query += ` AND (u.username LIKE ? ESCAPE '\' OR u.email LIKE ? ESCAPE '\' OR u.display_name LIKE ? ESCAPE '\')`
		p := likePattern(search)
		args = append(args, p, p, p)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY u.username`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUser returns a non-deleted user.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+userFrom+` WHERE u.id = ? AND u.deleted_at IS NULL`, id))
}

// GetUserByLogin returns the non-deleted user whose username or email
// matches login, case-insensitively.
func (s *Store) GetUserByLogin(ctx context.Context, login string) (User, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+userFrom+`
WHERE u.deleted_at IS NULL AND (lower(u.username) = ? OR lower(u.email) = ?)`, login, login))
}

// UserFieldTaken reports whether another non-deleted user has the given
// username or email. field must be "username" or "email".
func (s *Store) UserFieldTaken(ctx context.Context, field, value string, excludeID int64) (bool, error) {
	if field != "username" && field != "email" {
		return false, Invalid("unknown user field %q", field)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE lower(`+field+`) = lower(?) AND id != ? AND deleted_at IS NULL`,
		value, excludeID).Scan(&n)
	return n > 0, err
}

// CountUsersWithRole counts non-deleted users holding role.
func (s *Store) CountUsersWithRole(ctx context.Context, role string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users u JOIN roles r ON r.id = u.role_id
WHERE u.deleted_at IS NULL AND r.name = ?`, role).Scan(&n)
	return n, err
}

// SaveUser inserts u when u.ID is zero and updates it otherwise. The role is
// taken from u.Role.ID.
func (s *Store) SaveUser(ctx context.Context, u *User) error {
	now := s.timestamp()
	if u.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO users (username, email, display_name, password_hash, role_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, u.Username, u.Email, u.DisplayName, u.PasswordHash, u.Role.ID, now, now)
		if err != nil {
			return mapConstraint(err)
		}
		u.CreatedAt, u.UpdatedAt = parseTime(now), parseTime(now)
		u.ID, err = res.LastInsertId()
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET username = ?, email = ?, display_name = ?, password_hash = ?, role_id = ?, updated_at = ?
WHERE id = ? AND deleted_at IS NULL`, u.Username, u.Email, u.DisplayName, u.PasswordHash, u.Role.ID, now, u.ID)
	if err != nil {
		return mapConstraint(err)
	}
	u.UpdatedAt = parseTime(now)
	return expectRow(res)
}

// DeleteUser soft-deletes a user and hands their posts, pages and uploads to
// heir.
func (s *Store) DeleteUser(ctx context.Context, id, heir int64) error {
	now := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		if err != nil {
			return err
		}
		if err := expectRow(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE posts SET author_id = ? WHERE author_id = ?`, heir, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE media SET uploaded_by = ? WHERE uploaded_by = ?`, heir, id)
		return err
	})
}
