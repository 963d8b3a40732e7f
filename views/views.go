// Package views renders the admin panel. The signed-out screens are templ
// components. Admin pages are html/template files embedded in the binary and
// exposed as templ components so handlers render them the same way.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
)

//go:embed templates
var templateFiles embed.FS

//go:embed assets
var assetFiles embed.FS

// Assets holds admin.css and admin.js, served under /public/admin/.
var Assets, _ = fs.Sub(assetFiles, "assets")

// Flash is a one-shot message shown at the top of the next page.
type Flash struct {
	Kind    string // success or error
	Message string
}

// Page is the data every admin page receives. Data carries the
// page-specific values.
type Page struct {
	Title     string
	Section   string
	SiteTitle string
	User      any
	CSRF      string
	Flashes   []Flash
	Data      any
}

var funcs = template.FuncMap{
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return humanize.Time(t)
	},
	"bytes": func(n int64) string { return humanize.Bytes(uint64(n)) },
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	},
	"inputTime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02T15:04")
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
	"indent": func(depth int) string { return strings.Repeat("— ", depth) },
	"seq": func(from, to int) []int {
		var out []int
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	},
	"add": func(a, b int) int { return a + b },
	"percent": func(n, max int) int {
		if max <= 0 {
			return 0
		}
		return n * 100 / max
	},
	"contains": func(list []string, s string) bool {
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	},
}

var pages = map[string]*template.Template{}

func init() {
	entries, err := fs.Glob(templateFiles, "templates/pages/*.html")
	if err != nil {
		panic(err)
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e[len("templates/pages/"):], ".html")
		pages[name] = template.Must(template.New(name).Funcs(funcs).
			ParseFS(templateFiles, "templates/layout/*.html", e))
	}
}

// Admin renders the named page inside the admin layout.
func Admin(name string, p Page) templ.Component {
	return render(name, "admin", p)
}

func render(name, layout string, p Page) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		t, ok := pages[name]
		if !ok {
			return fmt.Errorf("views: unknown page %q", name)
		}
		return t.ExecuteTemplate(w, layout, p)
	})
}
