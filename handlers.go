package pressli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pressli/pressli/markdown"
	"github.com/pressli/pressli/theme"
)

const excerptWords = 55

// publicLink is a category or tag shown on a public entry.
type publicLink struct {
	Name string
	URL  string
}

// publicEntry is the view of a post or page that themes receive.
type publicEntry struct {
	ID         int64
	Type       string
	Title      string
	Slug       string
	URL        string
	Date       time.Time
	AuthorName string
	Excerpt    string
	Content    template.HTML
	Template   string
	Categories []publicLink
	Tags       []publicLink
	JSONLD     template.JS
}

func (a *App) entry(ctx context.Context, p Post, site theme.Site, full bool) publicEntry {
	e := publicEntry{
		ID:         p.ID,
		Type:       p.Type,
		Title:      p.Title,
		Slug:       p.Slug,
		URL:        p.Permalink(),
		Date:       p.PublishedAt.In(site.Location()),
		AuthorName: p.AuthorName,
		Template:   p.Template,
		Excerpt:    p.Excerpt,
	}
	if e.Excerpt == "" {
		e.Excerpt = markdown.Excerpt(p.Format, p.Content, excerptWords)
	}
	for _, t := range p.Categories {
		e.Categories = append(e.Categories, publicLink{Name: t.Name, URL: t.Permalink()})
	}
	for _, t := range p.Tags {
		e.Tags = append(e.Tags, publicLink{Name: t.Name, URL: t.Permalink()})
	}
	if full {
		e.Content = template.HTML(a.Plugins.FilterContent(ctx, markdown.Render(p.Format, p.Content)))
		if p.Type == TypePost {
			e.JSONLD = template.JS(BlogPostingJSONLD(p, site.URL, site.Title))
		}
	}
	return e
}

// site collects the site-wide values for the active theme: settings, the
// resolved menus of every declared location and the customizer values.
func (a *App) site(ctx context.Context) (theme.Site, error) {
	s := theme.Site{URL: strings.TrimRight(a.Config.SiteURL, "/"), Menus: map[string][]theme.MenuLink{}}
	var err error
	if s.Title, err = a.Settings.Get(ctx, "site_title"); err != nil {
		return s, err
	}
	if s.Tagline, err = a.Settings.Get(ctx, "tagline"); err != nil {
		return s, err
	}
	s.Timezone, _ = a.Settings.Get(ctx, "timezone")
	s.DateFormat, _ = a.Settings.Get(ctx, "date_format")
	s.Year = a.now().In(s.Location()).Year()
	t, err := a.Themes.Active(ctx)
	if err != nil {
		return s, err
	}
	for loc := range t.Menus {
		links, err := a.Menus.Resolve(ctx, loc)
		if err != nil {
			return s, err
		}
		s.Menus[loc] = links
	}
	if s.Mods, err = a.Themes.Mods(ctx, t.Root); err != nil {
		return s, err
	}
	return s, nil
}

// renderTheme executes the first available template of names into a buffer
// so a failing template never leaves a half-written page.
func (a *App) renderTheme(c echo.Context, code int, view theme.View, names ...string) error {
	ctx := c.Request().Context()
	var buf bytes.Buffer
	if err := a.Themes.Renderer().Render(ctx, &buf, view, names...); err != nil {
		return fmt.Errorf("render %v: %w", names, err)
	}
	return c.HTMLBlob(code, buf.Bytes())
}

func pageURL(base string, page, total int) (prev, next string) {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	if page > 1 {
		prev = base
		if page > 2 {
			prev = base + sep + "page=" + strconv.Itoa(page-1)
		}
	}
	if page < total {
		next = base + sep + "page=" + strconv.Itoa(page+1)
	}
	return prev, next
}

// listing renders a paginated list of published posts.
func (a *App) listing(c echo.Context, view theme.View, q PostQuery, base string, names ...string) error {
	ctx := c.Request().Context()
	per := a.Settings.Int(ctx, "posts_per_page", 10)
	if per < 1 || per > 100 {
		per = 10
	}
	page := pageParam(c)
	q.Type, q.Public, q.Now = TypePost, true, a.now()
	q.Limit, q.Offset = per, (page-1)*per
	posts, total, err := a.Posts.List(ctx, q)
	if err != nil {
		return err
	}
	pages := totalPages(total, per)
	if page > pages {
		return echo.ErrNotFound
	}
	entries := make([]publicEntry, 0, len(posts))
	for _, p := range posts {
		entries = append(entries, a.entry(ctx, p, view.Site, false))
	}
	view.Entries = entries
	view.Page, view.TotalPages = page, pages
	view.PrevURL, view.NextURL = pageURL(base, page, pages)
	return a.renderTheme(c, http.StatusOK, view, names...)
}

func (a *App) handleHome(c echo.Context) error {
	ctx := c.Request().Context()
	site, err := a.site(ctx)
	if err != nil {
		return err
	}
	view := theme.View{Site: site, Description: site.Tagline}
	if v, _ := a.Settings.Get(ctx, "show_on_front"); v == "page" {
		front := int64(a.Settings.Int(ctx, "page_on_front", 0))
		if p, err := a.Store.GetPost(ctx, front); err == nil && p.Type == TypePage && p.IsPublic(a.now()) {
			view.Entry = a.entry(ctx, p, site, true)
			return a.renderTheme(c, http.StatusOK, view, "front-page", pageTemplate(p), "page")
		}
	}
	return a.listing(c, view, PostQuery{}, "/", "home", "archive")
}

func pageTemplate(p Post) string {
	if p.Template == "" {
		return "page"
	}
	return p.Template
}

func (a *App) handleEntry(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := a.Posts.Published(ctx, c.Param("slug"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.ErrNotFound
		}
		return err
	}
	site, err := a.site(ctx)
	if err != nil {
		return err
	}
	e := a.entry(ctx, p, site, true)
	view := theme.View{Site: site, Title: p.Title, Description: e.Excerpt, Entry: e}
	if p.Type == TypePage {
		return a.renderTheme(c, http.StatusOK, view, pageTemplate(p), "page")
	}
	return a.renderTheme(c, http.StatusOK, view, "single")
}

func (a *App) handleTermArchive(taxonomy string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		t, err := a.Terms.BySlug(ctx, taxonomy, c.Param("slug"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return echo.ErrNotFound
			}
			return err
		}
		site, err := a.site(ctx)
		if err != nil {
			return err
		}
		view := theme.View{Site: site, Title: t.Name, Description: t.Description, Term: t}
		return a.listing(c, view, PostQuery{TermID: t.ID}, t.Permalink(), taxonomy, "archive")
	}
}

func (a *App) handleRobots(c echo.Context) error {
	body := "User-agent: *\nDisallow: /admin/\nSitemap: " + AbsoluteURL(a.Config.SiteURL, "/sitemap.xml") + "\n"
	return c.String(http.StatusOK, body)
}

// publishedPosts returns every public entry of typ for the feed and sitemap.
func (a *App) publishedPosts(ctx context.Context, typ string, limit int) ([]Post, error) {
	posts, _, err := a.Posts.List(ctx, PostQuery{Type: typ, Public: true, Now: a.now(), Limit: limit})
	return posts, err
}

func (a *App) handleSitemap(c echo.Context) error {
	ctx := c.Request().Context()
	posts, err := a.publishedPosts(ctx, TypePost, 0)
	if err != nil {
		return err
	}
	pages, err := a.publishedPosts(ctx, TypePage, 0)
	if err != nil {
		return err
	}
	terms, err := a.Store.ListTerms(ctx, TaxonomyCategory, "")
	if err != nil {
		return err
	}
	return a.renderSitemap(c, append(pages, posts...), terms)
}

func (a *App) handleFeed(c echo.Context) error {
	ctx := c.Request().Context()
	posts, err := a.publishedPosts(ctx, TypePost, 20)
	if err != nil {
		return err
	}
	return a.renderRSS(c, posts)
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}
	if code >= http.StatusInternalServerError {
		a.log.Error("server error", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	if wantsJSON(c) {
		msg := http.StatusText(code)
		if code >= http.StatusInternalServerError {
			_, msg = describeError(err)
		}
		_ = c.JSON(code, envelope{Message: msg})
		return
	}
	if strings.HasPrefix(c.Request().URL.Path, "/admin") {
		msg := "The page you were looking for does not exist."
		if code != http.StatusNotFound {
			_, msg = describeError(err)
			if he != nil && code < http.StatusInternalServerError {
				msg = fmt.Sprint(he.Message)
			}
		}
		if rerr := a.renderError(c, code, msg); rerr != nil {
			a.log.Error("render error page", zap.Error(rerr))
		}
		return
	}
	if code == http.StatusNotFound {
		if site, serr := a.site(c.Request().Context()); serr == nil {
			if rerr := a.renderTheme(c, code, theme.View{Site: site, Title: "Page not found"}, "404"); rerr == nil {
				return
			}
		}
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
