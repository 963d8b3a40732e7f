package theme

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// BuiltinRoot is the root of the theme compiled into the binary. It is used
// when no theme is activated and as the fallback for missing templates.
const BuiltinRoot = "Default"

//go:embed default
var builtinFiles embed.FS

var builtinFS, _ = fs.Sub(builtinFiles, "default")

func builtinTheme() Theme {
	return Theme{
		Builtin: true,
		Manifest: Manifest{
			Name:        "Pressli Default",
			Root:        BuiltinRoot,
			Version:     "1.0.0",
			Author:      "Pressli",
			Description: "The built-in theme.",
			Templates:   map[string]string{"full-width": "Full width"},
			Menus:       map[string]string{"primary": "Primary menu", "footer": "Footer menu"},
			Settings: []SettingDef{
				{Key: "accent_color", Label: "Accent color", Type: SettingColor, Default: "#2563eb"},
				{Key: "show_tagline", Label: "Show tagline", Type: SettingBoolean, Default: true},
				{Key: "footer_text", Label: "Footer text", Type: SettingText, Default: ""},
			},
		},
	}
}

// DefaultDateFormat is used when the site has no date format.
const DefaultDateFormat = "January 2, 2006"

// Site is the site-wide data every public template receives.
type Site struct {
	Title      string
	Tagline    string
	URL        string
	Timezone   string
	DateFormat string
	Menus      map[string][]MenuLink
	Mods       map[string]any
	Theme      Manifest
	Year       int
}

// Location returns the site time zone, or UTC when it is unset or unknown.
func (s Site) Location() *time.Location {
	if loc, err := time.LoadLocation(s.Timezone); err == nil && s.Timezone != "" {
		return loc
	}
	return time.UTC
}

// MenuLink is a resolved menu item.
type MenuLink struct {
	Title    string
	URL      string
	Target   string
	Children []MenuLink
}

// View is the root value passed to public templates. Entry and Entries hold
// the caller's content types.
type View struct {
	Site        Site
	Title       string
	Description string
	Entry       any
	Entries     any
	Term        any
	Page        int
	TotalPages  int
	PrevURL     string
	NextURL     string
}

// Renderer executes the active theme's templates. Parsed sets are cached per
// theme, template name and date settings until the theme changes.
type Renderer struct {
	m     *Manager
	mu    sync.Mutex
	cache map[string]*template.Template
}

func newRenderer(m *Manager) *Renderer {
	return &Renderer{m: m, cache: make(map[string]*template.Template)}
}

// Reset drops every parsed template set.
func (r *Renderer) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]*template.Template)
	r.mu.Unlock()
}

// Render executes the first of names that the active theme (or the built-in
// theme) provides.
func (r *Renderer) Render(ctx context.Context, w io.Writer, view View, names ...string) error {
	t, err := r.m.Active(ctx)
	if err != nil {
		return err
	}
	view.Site.Theme = t.Manifest
	tmpl, err := r.lookup(t, view.Site, names)
	if err != nil {
		return err
	}
	return tmpl.ExecuteTemplate(w, "layout", view)
}

func (r *Renderer) lookup(t Theme, site Site, names []string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var themeFS fs.FS
	if !t.Builtin {
		themeFS = os.DirFS(t.Dir)
	}
	for _, owner := range []fs.FS{themeFS, builtinFS} {
		if owner == nil {
			continue
		}
		for _, name := range names {
			file := path.Join("views", name+".html")
			if _, err := fs.Stat(owner, file); err != nil {
				continue
			}
			key := fmt.Sprintf("%s/%t/%s/%s/%s", t.Root, owner == builtinFS, name, site.DateFormat, site.Timezone)
			if tmpl, ok := r.cache[key]; ok {
				return tmpl, nil
			}
			tmpl, err := parseSet(t, site, themeFS, owner, file)
			if err != nil {
				return nil, err
			}
			r.cache[key] = tmpl
			return tmpl, nil
		}
	}
	return nil, fmt.Errorf("theme %s: no template among %v", t.Root, names)
}

// parseSet combines a layout with one page template. The theme layout wins
// when the theme has one.
func parseSet(t Theme, site Site, themeFS, pageFS fs.FS, pageFile string) (*template.Template, error) {
	layoutFS := builtinFS
	if themeFS != nil {
		if _, err := fs.Stat(themeFS, "views/layout.html"); err == nil {
			layoutFS = themeFS
		}
	}
	tmpl := template.New("theme").Funcs(funcs(t, site))
	tmpl, err := tmpl.ParseFS(layoutFS, "views/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	tmpl, err = tmpl.ParseFS(pageFS, pageFile)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(pageFile), err)
	}
	return tmpl, nil
}

// funcs binds the helpers to the theme and to the site's date settings.
func funcs(t Theme, site Site) template.FuncMap {
	layout := site.DateFormat
	if layout == "" {
		layout = DefaultDateFormat
	}
	loc := site.Location()
	return template.FuncMap{
		"asset": func(p string) string {
			return "/public/themes/" + t.Slug() + "/" + path.Clean("/" + p)[1:]
		},
		"safe": func(s string) template.HTML {
			return template.HTML(s)
		},
		"date": func(ts time.Time) string {
			if ts.IsZero() {
				return ""
			}
			return ts.In(loc).Format(layout)
		},
		"isoDate": func(ts time.Time) string {
			return ts.UTC().Format(time.RFC3339)
		},
		"mod": func(mods map[string]any, key string) any {
			return mods[key]
		},
	}
}
