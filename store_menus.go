package pressli

import (
	"context"
	"database/sql"
)

const menuColumns = `id, name, slug, location, created_at, updated_at`

func scanMenu(row scanner) (Menu, error) {
	var m Menu
	var created, updated string
	if err := row.Scan(&m.ID, &m.Name, &m.Slug, &m.Location, &created, &updated); err != nil {
		return Menu{}, err
	}
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return m, nil
}

// ListMenus returns the non-deleted menus ordered by name.
func (s *Store) ListMenus(ctx context.Context) ([]Menu, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+menuColumns+` FROM menus WHERE deleted_at IS NULL ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Menu
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMenu returns a non-deleted menu.
func (s *Store) GetMenu(ctx context.Context, id int64) (Menu, error) {
	return scanMenu(s.db.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus WHERE id = ? AND deleted_at IS NULL`, id))
}

// MenuAt returns the menu assigned to a theme location.
func (s *Store) MenuAt(ctx context.Context, location string) (Menu, error) {
	return scanMenu(s.db.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus WHERE location = ? AND deleted_at IS NULL`, location))
}

// MenuSlugTaken reports whether another non-deleted menu uses slug.
func (s *Store) MenuSlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM menus WHERE slug = ? AND id != ? AND deleted_at IS NULL`, slug, excludeID).Scan(&n)
	return n > 0, err
}

// SaveMenu inserts m when m.ID is zero and updates it otherwise. A non-empty
// location is cleared from every other menu.
func (s *Store) SaveMenu(ctx context.Context, m *Menu) error {
	now := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if m.Location != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE menus SET location = '', updated_at = ? WHERE location = ? AND id != ?`,
				now, m.Location, m.ID); err != nil {
				return err
			}
		}
		if m.ID == 0 {
			res, err := tx.ExecContext(ctx, `INSERT INTO menus (name, slug, location, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
				m.Name, m.Slug, m.Location, now, now)
			if err != nil {
				return err
			}
			m.CreatedAt = parseTime(now)
			m.ID, err = res.LastInsertId()
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE menus SET name = ?, slug = ?, location = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
			m.Name, m.Slug, m.Location, now, m.ID)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
	m.UpdatedAt = parseTime(now)
	return mapConstraint(err)
}

// DeleteMenu soft-deletes a menu and drops its items.
func (s *Store) DeleteMenu(ctx context.Context, id int64) error {
	now := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE menus SET deleted_at = ?, location = '', updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		if err != nil {
			return err
		}
		if err := expectRow(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM menu_items WHERE menu_id = ?`, id)
		return err
	})
}

// MenuItems returns the items of a menu as a flat list ordered by parent and
// position.
func (s *Store) MenuItems(ctx context.Context, menuID int64) ([]MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, menu_id, parent_id, title, url, kind, object_id, target, sort_order
FROM menu_items WHERE menu_id = ? ORDER BY parent_id, sort_order, id`, menuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MenuItem
	for rows.Next() {
		var it MenuItem
		if err := rows.Scan(&it.ID, &it.MenuID, &it.ParentID, &it.Title, &it.URL, &it.Kind, &it.ObjectID, &it.Target, &it.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ReplaceMenuItems replaces every item of a menu with tree in one
// transaction. Positions are assigned in list order per level.
func (s *Store) ReplaceMenuItems(ctx context.Context, menuID int64, tree []*MenuItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM menu_items WHERE menu_id = ?`, menuID); err != nil {
			return err
		}
		var insert func(items []*MenuItem, parent int64) error
		insert = func(items []*MenuItem, parent int64) error {
			for i, it := range items {
				res, err := tx.ExecContext(ctx, `INSERT INTO menu_items (menu_id, parent_id, title, url, kind, object_id, target, sort_order)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, menuID, parent, it.Title, it.URL, it.Kind, it.ObjectID, it.Target, i)
				if err != nil {
					return err
				}
				if it.ID, err = res.LastInsertId(); err != nil {
					return err
				}
				it.MenuID, it.ParentID, it.SortOrder = menuID, parent, i
				if err := insert(it.Children, it.ID); err != nil {
					return err
				}
			}
			return nil
		}
		if err := insert(tree, 0); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE menus SET updated_at = ? WHERE id = ?`, s.timestamp(), menuID)
		return err
	})
}
