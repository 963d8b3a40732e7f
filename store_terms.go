package pressli

import (
	"context"
	"database/sql"
	"strings"
)

const termColumns = `t.id, t.taxonomy, t.name, t.slug, t.description, COALESCE(t.parent_id, 0), t.created_at, t.updated_at`

// termCount counts the non-trashed entries filed under t.
const termCount = `(SELECT COUNT(*) FROM post_terms pt JOIN posts p ON p.id = pt.post_id
    WHERE pt.term_id = t.id AND p.deleted_at IS NULL AND p.status != 'trash')`

// scanTerm scans termColumns after any lead columns.
func scanTerm(row scanner, lead ...any) (Term, error) {
	var t Term
	var created, updated string
	dest := append(lead, &t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Description, &t.ParentID, &created, &updated)
	if err := row.Scan(dest...); err != nil {
		return Term{}, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

// ListTerms returns the non-deleted terms of a taxonomy with their entry
// counts, ordered by name.
func (s *Store) ListTerms(ctx context.Context, taxonomy, search string) ([]Term, error) {
	query := `SELECT ` + termCount + `, ` + termColumns + ` FROM terms t WHERE t.taxonomy = ? AND t.deleted_at IS NULL`
	args := []any{taxonomy}
	if search = strings.TrimSpace(search); search != "" {
		query += ` AND t.name LIKE ? ESCAPE '\'`
		args = append(args, likePattern(search))
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY t.name COLLATE NOCASE`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var terms []Term
	for rows.Next() {
		var count int
		t, err := scanTerm(rows, &count)
		if err != nil {
			return nil, err
		}
		t.Count = count
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// GetTerm returns a non-deleted term.
func (s *Store) GetTerm(ctx context.Context, id int64) (Term, error) {
	var count int
	t, err := scanTerm(s.db.QueryRowContext(ctx, `SELECT `+termCount+`, `+termColumns+` FROM terms t WHERE t.id = ? AND t.deleted_at IS NULL`, id), &count)
	t.Count = count
	return t, err
}

// GetTermBySlug returns a non-deleted term of taxonomy by slug.
func (s *Store) GetTermBySlug(ctx context.Context, taxonomy, slug string) (Term, error) {
	var count int
	t, err := scanTerm(s.db.QueryRowContext(ctx, `SELECT `+termCount+`, `+termColumns+`
FROM terms t WHERE t.taxonomy = ? AND t.slug = ? AND t.deleted_at IS NULL`, taxonomy, slug), &count)
	t.Count = count
	return t, err
}

// TermSlugTaken reports whether another non-deleted term of taxonomy uses slug.
func (s *Store) TermSlugTaken(ctx context.Context, taxonomy, slug string, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM terms WHERE taxonomy = ? AND slug = ? AND id != ? AND deleted_at IS NULL`,
		taxonomy, slug, excludeID).Scan(&n)
	return n > 0, err
}

// TermParentID returns the parent of a non-deleted term.
func (s *Store) TermParentID(ctx context.Context, id int64) (int64, error) {
	var parent int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(parent_id, 0) FROM terms WHERE id = ? AND deleted_at IS NULL`, id).Scan(&parent)
	return parent, err
}

// SaveTerm inserts t when t.ID is zero and updates it otherwise.
func (s *Store) SaveTerm(ctx context.Context, t *Term) error {
	now := s.timestamp()
	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO terms (taxonomy, name, slug, description, parent_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, t.Taxonomy, t.Name, t.Slug, t.Description, nullID(t.ParentID), now, now)
		if err != nil {
			return mapConstraint(err)
		}
		t.ID, err = res.LastInsertId()
		t.CreatedAt, t.UpdatedAt = parseTime(now), parseTime(now)
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE terms SET name = ?, slug = ?, description = ?, parent_id = ?, updated_at = ?
WHERE id = ? AND deleted_at IS NULL`, t.Name, t.Slug, t.Description, nullID(t.ParentID), now, t.ID)
	if err != nil {
		return mapConstraint(err)
	}
	t.UpdatedAt = parseTime(now)
	return expectRow(res)
}

// DeleteTerm soft-deletes a term. Its children move to its parent, its
// entry associations are removed, and posts left without a category are
// filed under fallbackCategory.
func (s *Store) DeleteTerm(ctx context.Context, id, fallbackCategory int64) error {
	now := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var taxonomy string
		var parent int64
		err := tx.QueryRowContext(ctx, `SELECT taxonomy, COALESCE(parent_id, 0) FROM terms WHERE id = ? AND deleted_at IS NULL`, id).
			Scan(&taxonomy, &parent)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE terms SET parent_id = ?, updated_at = ? WHERE parent_id = ? AND deleted_at IS NULL`,
			nullID(parent), now, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_terms WHERE term_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE terms SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
			return err
		}
		if taxonomy != TaxonomyCategory || fallbackCategory == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO post_terms (post_id, term_id)
SELECT p.id, ? FROM posts p
WHERE p.type = 'post' AND p.deleted_at IS NULL AND NOT EXISTS (
    SELECT 1 FROM post_terms pt JOIN terms t ON t.id = pt.term_id
    WHERE pt.post_id = p.id AND t.taxonomy = 'category' AND t.deleted_at IS NULL)`, fallbackCategory)
		return err
	})
}

// ExistingTermIDs returns the ids among ids that name non-deleted terms of
// taxonomy, in input order.
func (s *Store) ExistingTermIDs(ctx context.Context, taxonomy string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM terms WHERE taxonomy = ? AND deleted_at IS NULL AND id IN (`+placeholders(len(ids))+`)`,
		append([]any{taxonomy}, int64Args(ids)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []int64
	for _, id := range ids {
		if found[id] {
			out = append(out, id)
			delete(found, id)
		}
	}
	return out, nil
}

// EnsureTags returns the ids of the tags named, creating missing ones.
func (s *Store) EnsureTags(ctx context.Context, names []string) ([]int64, error) {
	now := s.timestamp()
	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seen := map[string]bool{}
		for _, name := range names {
			name = strings.TrimSpace(name)
			slug := Slugify(name)
			if slug == "" || seen[slug] {
				continue
			}
			seen[slug] = true
			var id int64
			err := tx.QueryRowContext(ctx, `SELECT id FROM terms WHERE taxonomy = 'tag' AND slug = ? AND deleted_at IS NULL`, slug).Scan(&id)
			if isNotFound(err) {
				res, err := tx.ExecContext(ctx, `INSERT INTO terms (taxonomy, name, slug, created_at, updated_at) VALUES ('tag', ?, ?, ?, ?)`,
					name, slug, now, now)
				if err != nil {
					return err
				}
				if id, err = res.LastInsertId(); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}
