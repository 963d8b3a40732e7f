package pressli

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressli/pressli/plugin"
)

func setSetting(ctx context.Context, q querier, key, value string, autoload bool) error {
	_, err := q.ExecContext(ctx, `INSERT INTO settings (key, value, autoload) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, autoload = excluded.autoload`,
		key, value, boolInt(autoload))
	return err
}

// GetSetting returns a setting row. It returns ErrNotFound when the key is
// missing.
func (s *Store) GetSetting(ctx context.Context, key string) (Setting, error) {
	st := Setting{Key: key}
	var autoload int
	err := s.db.QueryRowContext(ctx, `SELECT value, autoload FROM settings WHERE key = ?`, key).
		Scan(&st.Value, &autoload)
	if err != nil {
		return Setting{}, err
	}
	st.Autoload = autoload == 1
	return st, nil
}

// SetSetting upserts a setting row.
func (s *Store) SetSetting(ctx context.Context, key, value string, autoload bool) error {
	return setSetting(ctx, s.db, key, value, autoload)
}

// SetSettings upserts several autoload settings in one transaction.
func (s *Store) SetSettings(ctx context.Context, values map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for k, v := range values {
			if err := setSetting(ctx, tx, k, v, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// AutoloadSettings returns every autoload setting.
func (s *Store) AutoloadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE autoload = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ListSettings returns every row except the schema version, for export.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, autoload FROM settings WHERE key != 'schema_version' ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Setting
	for rows.Next() {
		var st Setting
		var autoload int
		if err := rows.Scan(&st.Key, &st.Value, &autoload); err != nil {
			return nil, err
		}
		st.Autoload = autoload == 1
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListPlugins returns the plugin rows ordered by slug.
func (s *Store) ListPlugins(ctx context.Context) ([]plugin.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, name, version, author, description, status, installed_at, updated_at FROM plugins ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []plugin.Record
	for rows.Next() {
		var r plugin.Record
		var installed, updated string
		if err := rows.Scan(&r.Slug, &r.Name, &r.Version, &r.Author, &r.Description, &r.Status, &installed, &updated); err != nil {
			return nil, err
		}
		r.InstalledAt = parseTime(installed)
		r.UpdatedAt = parseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavePlugin upserts a plugin row.
func (s *Store) SavePlugin(ctx context.Context, r plugin.Record) error {
	now := s.timestamp()
	installed := now
	if !r.InstalledAt.IsZero() {
		installed = formatTime(r.InstalledAt)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO plugins (slug, name, version, author, description, status, installed_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(slug) DO UPDATE SET name = excluded.name, version = excluded.version, author = excluded.author,
    description = excluded.description, status = excluded.status, updated_at = excluded.updated_at`,
		r.Slug, r.Name, r.Version, r.Author, r.Description, r.Status, installed, now)
	return err
}

// DeletePlugin removes a plugin row.
func (s *Store) DeletePlugin(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE slug = ?`, slug)
	return err
}

// SetPluginStatus updates the status of a plugin row.
func (s *Store) SetPluginStatus(ctx context.Context, slug, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plugins SET status = ?, updated_at = ? WHERE slug = ?`, status, s.timestamp(), slug)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// expectRow returns ErrNotFound when res affected no rows.
func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
