package analytics

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05"

// Store keeps page views in their own SQLite database so heavy writes never
// contend with content queries.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the analytics database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate analytics db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS views (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	visitor_id TEXT NOT NULL,
	browser TEXT NOT NULL,
	os TEXT NOT NULL,
	device TEXT NOT NULL,
	path TEXT NOT NULL,
	referrer TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_views_created ON views(created_at);
CREATE INDEX IF NOT EXISTS idx_views_path ON views(path);

CREATE TABLE IF NOT EXISTS bot_views (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_name TEXT NOT NULL,
	path TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bot_views_created ON bot_views(created_at);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// currentSchemaVersion is the latest schema version. Increment when adding migrations.
const currentSchemaVersion = 1

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaV1); err != nil {
		return err
	}
	verStr, err := s.setting(ctx, "schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	version := 0
	if verStr != "" {
		if version, err = strconv.Atoi(verStr); err != nil {
			return fmt.Errorf("parse schema version %q: %w", verStr, err)
		}
	}
	if version < currentSchemaVersion {
		version = currentSchemaVersion
	}
	return s.setSetting(ctx, "schema_version", strconv.Itoa(version))
}

func (s *Store) setting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// Salt returns the per-installation hashing salt, generating it on first use.
func (s *Store) Salt(ctx context.Context) (string, error) {
	v, err := s.setting(ctx, "hash_salt")
	if err != nil || v != "" {
		return v, err
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	v = hex.EncodeToString(b)
	if err := s.setSetting(ctx, "hash_salt", v); err != nil {
		return "", fmt.Errorf("store salt: %w", err)
	}
	return v, nil
}

// SaveView stores a human page view.
func (s *Store) SaveView(ctx context.Context, v View) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO views (visitor_id, browser, os, device, path, referrer, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.VisitorID, v.Browser, v.OS, v.Device, v.Path, v.Referrer, v.Timestamp.UTC().Format(timeLayout))
	return err
}

// SaveBotView stores a crawler page view.
func (s *Store) SaveBotView(ctx context.Context, v BotView) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_views (bot_name, path, created_at) VALUES (?, ?, ?)`,
		v.BotName, v.Path, v.Timestamp.UTC().Format(timeLayout))
	return err
}

// Summary aggregates the views in [from, to). Breakdowns hold at most limit rows.
func (s *Store) Summary(ctx context.Context, from, to time.Time, limit int) (*Summary, error) {
	sum := &Summary{
		From:      from,
		To:        to,
		TopPages:  []PageStat{},
		Referrers: []DimensionStat{},
		Browsers:  []DimensionStat{},
		Devices:   []DimensionStat{},
		Bots:      []DimensionStat{},
		Daily:     []DailyView{},
	}
	f, t := from.UTC().Format(timeLayout), to.UTC().Format(timeLayout)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), COUNT(DISTINCT visitor_id) FROM views WHERE created_at >= ? AND created_at < ?`, f, t).
			Scan(&sum.Views, &sum.Visitors)
	})
	g.Go(func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bot_views WHERE created_at >= ? AND created_at < ?`, f, t).
			Scan(&sum.BotViews)
	})
	g.Go(func() error {
		rows, err := s.dimension(ctx, "views", "path", f, t, limit)
		for _, r := range rows {
			sum.TopPages = append(sum.TopPages, PageStat{Path: r.Name, Views: r.Count})
		}
		return err
	})
	g.Go(func() (err error) {
		sum.Referrers, err = s.dimension(ctx, "views", "referrer", f, t, limit)
		return err
	})
	g.Go(func() (err error) {
		sum.Browsers, err = s.dimension(ctx, "views", "browser", f, t, limit)
		return err
	})
	g.Go(func() (err error) {
		sum.Devices, err = s.dimension(ctx, "views", "device", f, t, limit)
		return err
	})
	g.Go(func() (err error) {
		sum.Bots, err = s.dimension(ctx, "bot_views", "bot_name", f, t, limit)
		return err
	})
	g.Go(func() error {
		daily, err := s.daily(ctx, f, t)
		if err != nil {
			return err
		}
		sum.Daily = fillDays(daily, from, to)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analytics summary: %w", err)
	}
	return sum, nil
}

// dimension groups table by column. column and table are package constants,
// never user input.
func (s *Store) dimension(ctx context.Context, table, column, from, to string, limit int) ([]DimensionStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) AS n FROM `+table+`
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY `+column+` ORDER BY n DESC, `+column+` LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DimensionStat{}
	for rows.Next() {
		var d DimensionStat
		if err := rows.Scan(&d.Name, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) daily(ctx context.Context, from, to string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(created_at, 1, 10) AS day, COUNT(*) FROM views
		 WHERE created_at >= ? AND created_at < ? GROUP BY day`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		out[day] = n
	}
	return out, rows.Err()
}

// fillDays returns one entry per UTC day in [from, to), zero-filled.
func fillDays(counts map[string]int, from, to time.Time) []DailyView {
	out := []DailyView{}
	for d := Day(from.UTC()); d.Before(to); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		out = append(out, DailyView{Date: key, Views: counts[key]})
	}
	return out
}

// Cleanup removes views older than cutoff and returns how many rows went.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	c := cutoff.UTC().Format(timeLayout)
	var total int64
	for _, table := range []string{"views", "bot_views"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, c)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// StartCleanupScheduler deletes views older than retentionDays every
// interval. It returns a stop function.
func (s *Store) StartCleanupScheduler(retentionDays int, interval time.Duration, log *zap.Logger) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				n, err := s.Cleanup(context.Background(), cutoff)
				if err != nil {
					log.Error("analytics cleanup failed", zap.Error(err))
				} else if n > 0 {
					log.Info("analytics cleaned", zap.Int64("deleted", n))
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
