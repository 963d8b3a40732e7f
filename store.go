package pressli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is the storage format of every timestamp column. All values are
// UTC so string comparison orders them correctly.
const timeLayout = "2006-01-02 15:04:05"

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=cache_size(-8000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var migrations = []func(ctx context.Context, tx *sql.Tx, now string) error{
	migrateInitial,
}

// migrate applies pending migrations. The applied version is kept in the
// settings row schema_version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT '',
    autoload INTEGER NOT NULL DEFAULT 1
);`); err != nil {
		return err
	}
	var verStr string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'schema_version'`).Scan(&verStr)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	version := 0
	if verStr != "" {
		if version, err = strconv.Atoi(verStr); err != nil {
			return fmt.Errorf("parse schema version %q: %w", verStr, err)
		}
	}
	for i := version; i < len(migrations); i++ {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := migrations[i](ctx, tx, s.timestamp()); err != nil {
				return err
			}
			return setSetting(ctx, tx, "schema_version", strconv.Itoa(i+1), false)
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

const schemaV1 = `
CREATE TABLE roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    label TEXT NOT NULL,
    capabilities TEXT NOT NULL DEFAULT ''
);
CREATE TABLE users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL,
    email TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role_id INTEGER NOT NULL REFERENCES roles(id),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT
);
CREATE UNIQUE INDEX idx_users_username ON users(username) WHERE deleted_at IS NULL;
CREATE UNIQUE INDEX idx_users_email ON users(email) WHERE deleted_at IS NULL;
CREATE TABLE posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    slug TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    excerpt TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL DEFAULT 'html',
    status TEXT NOT NULL,
    previous_status TEXT NOT NULL DEFAULT '',
    parent_id INTEGER REFERENCES posts(id),
    author_id INTEGER REFERENCES users(id),
    template TEXT NOT NULL DEFAULT '',
    menu_order INTEGER NOT NULL DEFAULT 0,
    published_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT
);
CREATE UNIQUE INDEX idx_posts_slug ON posts(slug) WHERE deleted_at IS NULL;
CREATE INDEX idx_posts_listing ON posts(type, status, published_at);
CREATE TABLE terms (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    taxonomy TEXT NOT NULL,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    parent_id INTEGER REFERENCES terms(id),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT
);
CREATE UNIQUE INDEX idx_terms_slug ON terms(taxonomy, slug) WHERE deleted_at IS NULL;
CREATE TABLE post_terms (
    post_id INTEGER NOT NULL REFERENCES posts(id),
    term_id INTEGER NOT NULL REFERENCES terms(id),
    PRIMARY KEY (post_id, term_id)
);
CREATE INDEX idx_post_terms_term ON post_terms(term_id);
CREATE TABLE media (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL,
    path TEXT NOT NULL UNIQUE,
    thumb_path TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    original_name TEXT NOT NULL DEFAULT '',
    mime_type TEXT NOT NULL,
    size INTEGER NOT NULL,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    alt_text TEXT NOT NULL DEFAULT '',
    caption TEXT NOT NULL DEFAULT '',
    uploaded_by INTEGER REFERENCES users(id),
    created_at TEXT NOT NULL,
    deleted_at TEXT
);
CREATE TABLE menus (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    location TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT
);
CREATE UNIQUE INDEX idx_menus_slug ON menus(slug) WHERE deleted_at IS NULL;
CREATE TABLE menu_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    menu_id INTEGER NOT NULL REFERENCES menus(id),
    parent_id INTEGER NOT NULL DEFAULT 0,
    title TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    object_id INTEGER NOT NULL DEFAULT 0,
    target TEXT NOT NULL DEFAULT '',
    sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_menu_items_menu ON menu_items(menu_id, parent_id, sort_order);
CREATE TABLE plugins (
    slug TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    installed_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

var seedRoles = []Role{
	{Name: RoleAdministrator, Label: "Administrator", Capabilities: []string{
		CapReadAdmin, CapEditPosts, CapUploadFiles, CapPublish, CapEditOthers, CapManageOptions}},
	{Name: RoleEditor, Label: "Editor", Capabilities: []string{
		CapReadAdmin, CapEditPosts, CapUploadFiles, CapPublish, CapEditOthers}},
	{Name: RoleAuthor, Label: "Author", Capabilities: []string{
		CapReadAdmin, CapEditPosts, CapUploadFiles, CapPublish}},
	{Name: RoleSubscriber, Label: "Subscriber"},
}

// DefaultCategorySlug is the slug of the seeded category that cannot be deleted.
const DefaultCategorySlug = "uncategorized"

// defaultSettings are seeded on first start. The bool is the autoload flag.
var defaultSettings = []struct {
	key, value string
	autoload   bool
}{
	{"site_title", "My Pressli Site", true},
	{"tagline", "Just another Pressli site", true},
	{"admin_email", "", true},
	{"timezone", "UTC", true},
	{"date_format", "January 2, 2006", true},
	{"posts_per_page", "10", true},
	{"show_on_front", "posts", true},
	{"page_on_front", "0", true},
	{"thumbnail_width", "300", true},
	{"active_theme", "", true},
	{"core_version", "1.0.0", false},
}

func migrateInitial(ctx context.Context, tx *sql.Tx, now string) error {
	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return err
	}
	for _, r := range seedRoles {
		if _, err := tx.ExecContext(ctx, `INSERT INTO roles (name, label, capabilities) VALUES (?, ?, ?)`,
			r.Name, r.Label, strings.Join(r.Capabilities, ",")); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO terms (taxonomy, name, slug, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		TaxonomyCategory, "Uncategorized", DefaultCategorySlug, now, now)
	if err != nil {
		return err
	}
	catID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, d := range defaultSettings {
		if err := setSetting(ctx, tx, d.key, d.value, d.autoload); err != nil {
			return err
		}
	}
	return setSetting(ctx, tx, "default_category", strconv.FormatInt(catID, 10), true)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// nullID stores id 0 as NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
