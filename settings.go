package pressli

import (
	"context"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Settings reads and writes the settings table. Autoload rows are served
// from the cache; other rows are read on demand.
type Settings struct {
	store *Store
	cache SettingsCache
	log   *zap.Logger
}

// NewSettings creates a Settings service. A nil cache disables caching.
func NewSettings(store *Store, cache SettingsCache, log *zap.Logger) *Settings {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Settings{store: store, cache: cache, log: log}
}

// All returns every autoload setting.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	values, ok, err := s.cache.Load(ctx)
	if err != nil {
		s.log.Warn("settings cache read failed", zap.Error(err))
	}
	if ok {
		return values, nil
	}
	values, err = s.store.AutoloadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Store(ctx, values); err != nil {
		s.log.Warn("settings cache write failed", zap.Error(err))
	}
	return values, nil
}

// Get returns a setting value, or "" when the key does not exist.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	all, err := s.All(ctx)
	if err != nil {
		return "", err
	}
	if v, ok := all[key]; ok {
		return v, nil
	}
	st, err := s.store.GetSetting(ctx, key)
	if isNotFound(err) {
		return "", nil
	}
	return st.Value, err
}

// Int returns a setting parsed as an integer, or def.
func (s *Settings) Int(ctx context.Context, key string, def int) int {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Set writes a setting. An existing row keeps its autoload flag; new rows
// are autoloaded.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	autoload := true
	if st, err := s.store.GetSetting(ctx, key); err == nil {
		autoload = st.Autoload
	} else if !isNotFound(err) {
		return err
	}
	if err := s.store.SetSetting(ctx, key, value, autoload); err != nil {
		return err
	}
	s.Flush(ctx)
	return nil
}

// Flush drops the cached autoload settings.
func (s *Settings) Flush(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("settings cache invalidate failed", zap.Error(err))
	}
}

// Location returns the configured site time zone.
func (s *Settings) Location(ctx context.Context) *time.Location {
	name, _ := s.Get(ctx, "timezone")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Setting groups edited under /admin/settings/:group.
var SettingGroups = map[string][]string{
	"general": {"site_title", "tagline", "admin_email", "timezone", "date_format"},
	"reading": {"posts_per_page", "show_on_front", "page_on_front"},
	"media":   {"thumbnail_width"},
}

// SaveGroup validates and stores the fields of a settings group.
func (s *Settings) SaveGroup(ctx context.Context, group string, form map[string]string) error {
	keys, ok := SettingGroups[group]
	if !ok {
		return NotFound("settings group")
	}
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		values[k] = strings.TrimSpace(form[k])
	}
	if err := s.validateGroup(ctx, group, values); err != nil {
		return err
	}
	if err := s.store.SetSettings(ctx, values); err != nil {
		return err
	}
	s.Flush(ctx)
	return nil
}

func (s *Settings) validateGroup(ctx context.Context, group string, v map[string]string) error {
	switch group {
	case "general":
		if v["site_title"] == "" {
			return Invalid("Site title is required")
		}
		if len(v["site_title"]) > 200 {
			return Invalid("Site title must be at most 200 characters")
		}
		if v["admin_email"] != "" {
			if _, err := mail.ParseAddress(v["admin_email"]); err != nil {
				return Invalid("Admin email is not a valid address")
			}
		}
		if v["timezone"] == "" {
			v["timezone"] = "UTC"
		}
		if _, err := time.LoadLocation(v["timezone"]); err != nil {
			return Invalid("Unknown time zone %q", v["timezone"])
		}
		if v["date_format"] == "" {
			v["date_format"] = "January 2, 2006"
		}
		if sample := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC); sample.Format(v["date_format"]) == v["date_format"] {
			return Invalid("Date format must use the reference date, for example January 2, 2006")
		}
	case "reading":
		n, err := strconv.Atoi(v["posts_per_page"])
		if err != nil || n < 1 || n > 100 {
			return Invalid("Posts per page must be between 1 and 100")
		}
		switch v["show_on_front"] {
		case "posts":
			v["page_on_front"] = "0"
		case "page":
			id, err := strconv.ParseInt(v["page_on_front"], 10, 64)
			if err != nil || id <= 0 {
				return Invalid("Choose the page to show on the front page")
			}
			p, err := s.store.GetPost(ctx, id)
			if err != nil || p.Type != TypePage || p.Status == StatusTrash {
				return Invalid("The front page must be an existing page")
			}
		default:
			return Invalid("Front page must show posts or a page")
		}
	case "media":
		n, err := strconv.Atoi(v["thumbnail_width"])
		if err != nil || n < 50 || n > 2000 {
			return Invalid("Thumbnail width must be between 50 and 2000 pixels")
		}
	}
	return nil
}
