package pressli

import (
	"context"
	"strings"
)

// MediaQuery filters ListMedia.
type MediaQuery struct {
	Kind   string // image, document, audio, video, archive or "" for all
	Search string
	Limit  int
	Offset int
}

const mediaColumns = `id, filename, path, thumb_path, title, original_name, mime_type, size, width, height,
    alt_text, caption, COALESCE(uploaded_by, 0), created_at`

func scanMedia(row scanner) (Media, error) {
	var m Media
	var created string
	err := row.Scan(&m.ID, &m.Filename, &m.Path, &m.ThumbPath, &m.Title, &m.OriginalName, &m.MimeType, &m.Size,
		&m.Width, &m.Height, &m.AltText, &m.Caption, &m.UploadedBy, &created)
	if err != nil {
		return Media{}, err
	}
	m.CreatedAt = parseTime(created)
	return m, nil
}

var mediaKinds = map[string]string{
	"image":    "mime_type LIKE 'image/%'",
	"audio":    "mime_type LIKE 'audio/%'",
	"video":    "mime_type LIKE 'video/%'",
	"document": "mime_type IN ('application/pdf', 'text/plain')",
	"archive":  "mime_type = 'application/zip'",
}

// ListMedia returns a page of non-deleted media, newest first, and the total
// match count.
func (s *Store) ListMedia(ctx context.Context, q MediaQuery) ([]Media, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any
	if cond, ok := mediaKinds[q.Kind]; ok {
		where = append(where, cond)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		where = append(where, `(title LIKE ? ESCAPE '\' OR original_name LIKE ? ESCAPE '\')`)
		args = append(args, likePattern(search), likePattern(search))
	}
	cond := " WHERE " + strings.Join(where, " AND ")
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+mediaColumns+` FROM media`+cond+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// GetMedia returns a non-deleted media row.
func (s *Store) GetMedia(ctx context.Context, id int64) (Media, error) {
	return scanMedia(s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ? AND deleted_at IS NULL`, id))
}

// MediaPathTaken reports whether any media row, deleted or not, uses path.
// Deleted rows count because their files stay on disk.
func (s *Store) MediaPathTaken(ctx context.Context, path string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE path = ?`, path).Scan(&n)
	return n > 0, err
}

// CreateMedia inserts a media row.
func (s *Store) CreateMedia(ctx context.Context, m *Media) error {
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx, `INSERT INTO media
(filename, path, thumb_path, title, original_name, mime_type, size, width, height, alt_text, caption, uploaded_by, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Filename, m.Path, m.ThumbPath, m.Title, m.OriginalName, m.MimeType, m.Size, m.Width, m.Height,
		m.AltText, m.Caption, nullID(m.UploadedBy), now)
	if err != nil {
		return mapConstraint(err)
	}
	m.CreatedAt = parseTime(now)
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateMediaMeta updates the editable metadata of a media row.
func (s *Store) UpdateMediaMeta(ctx context.Context, m Media) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET title = ?, alt_text = ?, caption = ? WHERE id = ? AND deleted_at IS NULL`,
		m.Title, m.AltText, m.Caption, m.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeleteMedia soft-deletes a media row. The file stays on disk.
func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, s.timestamp(), id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// CountMedia returns the number of non-deleted media rows and their total size.
func (s *Store) CountMedia(ctx context.Context) (int, int64, error) {
	var n int
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM media WHERE deleted_at IS NULL`).Scan(&n, &size)
	return n, size, err
}
