package pressli

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PostQuery filters ListPosts.
type PostQuery struct {
	Type     string
	Status   string // "" lists every status except trash
	Search   string
	AuthorID int64
	TermID   int64
	Public   bool // published entries, and scheduled ones whose time has passed at Now
	Now      time.Time
	Limit    int
	Offset   int
}

const postColumns = `p.id, p.type, p.title, p.slug, p.content, p.excerpt, p.format, p.status, p.previous_status,
    COALESCE(p.parent_id, 0), COALESCE(p.author_id, 0), COALESCE(NULLIF(u.display_name, ''), u.username, ''),
    p.template, p.menu_order, p.published_at, p.created_at, p.updated_at`

const postFrom = ` FROM posts p LEFT JOIN users u ON u.id = p.author_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (Post, error) {
	var p Post
	var published sql.NullString
	var created, updated string
	err := row.Scan(&p.ID, &p.Type, &p.Title, &p.Slug, &p.Content, &p.Excerpt, &p.Format, &p.Status, &p.PreviousStatus,
		&p.ParentID, &p.AuthorID, &p.AuthorName, &p.Template, &p.MenuOrder, &published, &created, &updated)
	if err != nil {
		return Post{}, err
	}
	p.PublishedAt = parseNullTime(published)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func (q PostQuery) where() (string, []any) {
	where := []string{"p.deleted_at IS NULL"}
	var args []any
	if q.Type != "" {
		where = append(where, "p.type = ?")
		args = append(args, q.Type)
	}
	switch {
	case q.Public:
		where = append(where, "(p.status = 'published' OR (p.status = 'scheduled' AND p.published_at <= ?))")
		args = append(args, formatTime(q.Now))
	case q.Status == "":
		where = append(where, "p.status != 'trash'")
	default:
		where = append(where, "p.status = ?")
		args = append(args, q.Status)
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		where = append(where, `p.title LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(s))
	}
	if q.AuthorID != 0 {
		where = append(where, "p.author_id = ?")
		args = append(args, q.AuthorID)
	}
	if q.TermID != 0 {
		where = append(where, "p.id IN (SELECT post_id FROM post_terms WHERE term_id = ?)")
		args = append(args, q.TermID)
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// ListPosts returns a page of posts matching q and the total match count.
func (s *Store) ListPosts(ctx context.Context, q PostQuery) ([]Post, int, error) {
	where, args := q.where()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	order := ` ORDER BY COALESCE(p.published_at, p.created_at) DESC, p.id DESC`
	if q.Type == TypePage {
		order = ` ORDER BY p.menu_order, p.title COLLATE NOCASE, p.id`
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+postFrom+where+order+` LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.attachTerms(ctx, posts); err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// GetPost returns a non-deleted post or page by id, in any status.
func (s *Store) GetPost(ctx context.Context, id int64) (Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+postFrom+` WHERE p.id = ? AND p.deleted_at IS NULL`, id))
	if err != nil {
		return Post{}, err
	}
	posts := []Post{p}
	if err := s.attachTerms(ctx, posts); err != nil {
		return Post{}, err
	}
	return posts[0], nil
}

// GetPostBySlug returns a non-deleted post or page by slug, in any status.
func (s *Store) GetPostBySlug(ctx context.Context, slug string) (Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+postFrom+` WHERE p.slug = ? AND p.deleted_at IS NULL`, slug))
	if err != nil {
		return Post{}, err
	}
	posts := []Post{p}
	if err := s.attachTerms(ctx, posts); err != nil {
		return Post{}, err
	}
	return posts[0], nil
}

func (s *Store) attachTerms(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(posts))
	index := make(map[int64]int, len(posts))
	for i, p := range posts {
		if p.Type != TypePost {
			continue
		}
		ids = append(ids, p.ID)
		index[p.ID] = i
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT pt.post_id, `+termColumns+`
FROM post_terms pt JOIN terms t ON t.id = pt.term_id
WHERE t.deleted_at IS NULL AND pt.post_id IN (`+placeholders(len(ids))+`)
ORDER BY t.name COLLATE NOCASE`, int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var postID int64
		t, err := scanTerm(rows, &postID)
		if err != nil {
			return err
		}
		p := &posts[index[postID]]
		if t.Taxonomy == TaxonomyCategory {
			p.Categories = append(p.Categories, t)
		} else {
			p.Tags = append(p.Tags, t)
		}
	}
	return rows.Err()
}

// SlugTaken reports whether a non-deleted post or page other than excludeID
// uses slug.
func (s *Store) SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE slug = ? AND id != ? AND deleted_at IS NULL`, slug, excludeID).Scan(&n)
	return n > 0, err
}

// SavePost inserts p when p.ID is zero and updates it otherwise. For posts
// the term associations are replaced with termIDs.
func (s *Store) SavePost(ctx context.Context, p *Post, termIDs []int64) error {
	now := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if p.ID == 0 {
			res, err := tx.ExecContext(ctx, `INSERT INTO posts
(type, title, slug, content, excerpt, format, status, previous_status, parent_id, author_id, template, menu_order, published_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.Type, p.Title, p.Slug, p.Content, p.Excerpt, p.Format, p.Status, p.PreviousStatus,
				nullID(p.ParentID), nullID(p.AuthorID), p.Template, p.MenuOrder, nullTime(p.PublishedAt), now, now)
			if err != nil {
				return err
			}
			if p.ID, err = res.LastInsertId(); err != nil {
				return err
			}
			p.CreatedAt = parseTime(now)
		} else {
			res, err := tx.ExecContext(ctx, `UPDATE posts SET title = ?, slug = ?, content = ?, excerpt = ?, format = ?, status = ?,
    previous_status = ?, parent_id = ?, author_id = ?, template = ?, menu_order = ?, published_at = ?, updated_at = ?
WHERE id = ? AND deleted_at IS NULL`,
				p.Title, p.Slug, p.Content, p.Excerpt, p.Format, p.Status, p.PreviousStatus,
				nullID(p.ParentID), nullID(p.AuthorID), p.Template, p.MenuOrder, nullTime(p.PublishedAt), now, p.ID)
			if err != nil {
				return err
			}
			if err := expectRow(res); err != nil {
				return err
			}
		}
		p.UpdatedAt = parseTime(now)
		if p.Type != TypePost {
			return nil
		}
		return setPostTerms(ctx, tx, p.ID, termIDs)
	})
	return mapConstraint(err)
}

func setPostTerms(ctx context.Context, tx *sql.Tx, postID int64, termIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM post_terms WHERE post_id = ?`, postID); err != nil {
		return err
	}
	for _, id := range termIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO post_terms (post_id, term_id) VALUES (?, ?)`, postID, id); err != nil {
			return err
		}
	}
	return nil
}

// ParentID returns the parent of a non-deleted page.
func (s *Store) ParentID(ctx context.Context, id int64) (int64, error) {
	var parent int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(parent_id, 0) FROM posts WHERE id = ? AND deleted_at IS NULL`, id).Scan(&parent)
	return parent, err
}

// TrashPost moves a post or page to the trash, remembering its status.
// Children of a trashed page move up to its parent.
func (s *Store) TrashPost(ctx context.Context, id int64) error {
	now := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		var parent int64
		err := tx.QueryRowContext(ctx, `SELECT status, COALESCE(parent_id, 0) FROM posts WHERE id = ? AND deleted_at IS NULL`, id).
			Scan(&status, &parent)
		if err != nil {
			return err
		}
		if status == StatusTrash {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE posts SET status = 'trash', previous_status = ?, updated_at = ? WHERE id = ?`,
			status, now, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE posts SET parent_id = ?, updated_at = ? WHERE parent_id = ? AND deleted_at IS NULL`,
			nullID(parent), now, id)
		return err
	})
}

// RestorePost takes a post out of the trash, returning it to its previous
// status or to draft.
func (s *Store) RestorePost(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posts
SET status = CASE previous_status WHEN '' THEN 'draft' ELSE previous_status END, previous_status = '', updated_at = ?
WHERE id = ? AND status = 'trash' AND deleted_at IS NULL`, s.timestamp(), id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeletePosts permanently deletes posts and pages by setting deleted_at.
// Children of deleted pages move up to the deleted page's parent.
func (s *Store) DeletePosts(ctx context.Context, ids []int64) (int, error) {
	now := s.timestamp()
	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var parent int64
			err := tx.QueryRowContext(ctx, `SELECT COALESCE(parent_id, 0) FROM posts WHERE id = ? AND deleted_at IS NULL`, id).Scan(&parent)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE posts SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE posts SET parent_id = ? WHERE parent_id = ? AND deleted_at IS NULL`, nullID(parent), id); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// TrashedIDs returns the ids of trashed entries last touched before cutoff.
// A zero cutoff returns every trashed entry.
func (s *Store) TrashedIDs(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `SELECT id FROM posts WHERE status = 'trash' AND deleted_at IS NULL`
	var args []any
	if !cutoff.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, formatTime(cutoff))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountPosts returns non-deleted entries of typ counted per status.
func (s *Store) CountPosts(ctx context.Context, typ string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM posts WHERE type = ? AND deleted_at IS NULL GROUP BY status`, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// likePattern escapes s for a LIKE ... ESCAPE '\' substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// mapConstraint turns SQLite unique violations into ErrConflict.
func mapConstraint(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &ServiceError{Kind: ErrConflict, Message: "That slug or name is already in use", Err: err}
	}
	return err
}
