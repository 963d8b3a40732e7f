package pressli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T, mutate ...func(*Config)) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		SiteURL:       "https://example.com",
		DatabasePath:  filepath.Join(dir, "data", "pressli.db"),
		ContentDir:    filepath.Join(dir, "content"),
		PublicDir:     filepath.Join(dir, "public"),
		DataDir:       filepath.Join(dir, "data"),
		SessionSecret: "test-secret-0123456789",
		PasswordCost:  4,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	app := New(cfg, WithClock(func() time.Time { return testNow }))
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { app.Close() })
	return app
}

func createUser(t *testing.T, app *App, name, role string) *User {
	t.Helper()
	u, err := app.Users.Create(context.Background(), UserInput{
		Username: name, Email: name + "@example.com", Password: "correct-horse", Role: role,
	})
	require.NoError(t, err)
	return &u
}

// client keeps cookies between requests served straight by the Echo router.
type client struct {
	t       *testing.T
	app     *App
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, app *App) *client {
	return &client{t: t, app: app, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.app.Echo.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rec
}

func (c *client) get(path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return c.do(req)
}

// post submits a form, adding the CSRF token when the client holds one.
func (c *client) post(path string, form url.Values) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	if ck, ok := c.cookies["_csrf"]; ok && form.Get("_csrf") == "" {
		form.Set("_csrf", ck.Value)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) login(user, password string) *httptest.ResponseRecorder {
	c.t.Helper()
	rec := c.get("/admin/login/")
	require.Equal(c.t, http.StatusOK, rec.Code)
	require.Contains(c.t, c.cookies, "_csrf")
	return c.post("/admin/login/", url.Values{"login": {user}, "password": {password}})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestAdminRequiresLogin(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t, app)

	rec := c.get("/admin/")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login/", rec.Header().Get("Location"))

	rec = c.get("/admin/posts/")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login/?next=%2Fadmin%2Fposts%2F", rec.Header().Get("Location"))

	rec = c.get("/admin/tags/search/?q=go", "Accept", "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, false, env["success"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestLoginRejectsMissingCSRFToken(t *testing.T) {
	app := newTestApp(t)
	createUser(t, app, "admin", RoleAdministrator)
	c := newClient(t, app)

	rec := c.post("/admin/login/", url.Values{"login": {"admin"}, "password": {"correct-horse"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c.get("/admin/login/")
	rec = c.post("/admin/login/", url.Values{"login": {"admin"}, "password": {"correct-horse"}, "_csrf": {"forged"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginFlow(t *testing.T) {
	app := newTestApp(t)
	createUser(t, app, "admin", RoleAdministrator)
	c := newClient(t, app)

	rec := c.login("admin", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password.")

	rec = c.post("/admin/login/", url.Values{"login": {"admin"}, "password": {"correct-horse"}, "next": {"//evil.example/"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/", rec.Header().Get("Location"))

	rec = c.get("/admin/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dashboard")

	rec = c.get("/admin/login/")
	assert.Equal(t, http.StatusSeeOther, rec.Code, "signed-in users skip the login form")

	rec = c.post("/admin/logout/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	rec = c.get("/admin/")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestLoginRedirectsToNext(t *testing.T) {
	app := newTestApp(t)
	createUser(t, app, "admin", RoleAdministrator)
	c := newClient(t, app)
	c.get("/admin/login/")
	rec := c.post("/admin/login/", url.Values{"login": {"admin"}, "password": {"correct-horse"}, "next": {"/admin/pages/"}})
	assert.Equal(t, "/admin/pages/", rec.Header().Get("Location"))
}

func TestSubscriberCannotLogIn(t *testing.T) {
	app := newTestApp(t)
	createUser(t, app, "reader", RoleSubscriber)
	rec := newClient(t, app).login("reader", "correct-horse")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot access the admin panel")
}

func TestLoginIsRateLimited(t *testing.T) {
	app := newTestApp(t, func(c *Config) { c.LoginAttempts = 2 })
	createUser(t, app, "admin", RoleAdministrator)
	c := newClient(t, app)

	assert.Equal(t, http.StatusUnauthorized, c.login("admin", "nope-nope").Code)
	assert.Equal(t, http.StatusUnauthorized, c.login("admin", "nope-nope").Code)
	assert.Equal(t, http.StatusTooManyRequests, c.login("admin", "correct-horse").Code)
}

func TestCapabilitiesGateAdminSections(t *testing.T) {
	app := newTestApp(t)
	createUser(t, app, "admin", RoleAdministrator)
	createUser(t, app, "writer", RoleAuthor)
	c := newClient(t, app)
	require.Equal(t, http.StatusSeeOther, c.login("writer", "correct-horse").Code)

	assert.Equal(t, http.StatusOK, c.get("/admin/posts/").Code)
	assert.Equal(t, http.StatusForbidden, c.get("/admin/users/").Code)
	assert.Equal(t, http.StatusForbidden, c.get("/admin/settings/general/").Code)

	rec := c.get("/admin/stats/", "Accept", "application/json")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, decodeEnvelope(t, rec)["success"])
}

func TestTagSearchReturnsEnvelope(t *testing.T) {
	app := newTestApp(t)
	admin := createUser(t, app, "admin", RoleAdministrator)
	_, err := app.Posts.Create(context.Background(), admin, TypePost, PostInput{Title: "Tagged", Tags: []string{"golang", "gopher", "web"}})
	require.NoError(t, err)

	c := newClient(t, app)
	c.login("admin", "correct-horse")
	rec := c.get("/admin/tags/search/?q=go", "X-Requested-With", "XMLHttpRequest")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env["success"])
	assert.Len(t, env["data"], 2)
}

func TestPublicSite(t *testing.T) {
	app := newTestApp(t)
	admin := createUser(t, app, "admin", RoleAdministrator)
	ctx := context.Background()
	_, err := app.Posts.Create(ctx, admin, TypePost, PostInput{Title: "Hello World", Content: "<p>First words</p>", Status: StatusPublished})
	require.NoError(t, err)
	_, err = app.Posts.Create(ctx, admin, TypePost, PostInput{Title: "Secret Draft", Status: StatusDraft})
	require.NoError(t, err)
	_, err = app.Posts.Create(ctx, admin, TypePage, PostInput{Title: "About", Status: StatusPublished})
	require.NoError(t, err)
	c := newClient(t, app)

	rec := c.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hello World")
	assert.NotContains(t, rec.Body.String(), "Secret Draft")

	rec = c.get("/hello-world/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "First words")
	assert.Contains(t, rec.Body.String(), "application/ld+json")

	rec = c.get("/hello-world")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)

	assert.Equal(t, http.StatusOK, c.get("/about/").Code)
	assert.Equal(t, http.StatusOK, c.get("/category/uncategorized/").Code)

	rec = c.get("/secret-draft/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page not found")
	assert.Equal(t, http.StatusNotFound, c.get("/tag/nothing/").Code)
}

func TestRobotsSitemapAndFeed(t *testing.T) {
	app := newTestApp(t)
	admin := createUser(t, app, "admin", RoleAdministrator)
	_, err := app.Posts.Create(context.Background(), admin, TypePost, PostInput{Title: "Hello World", Status: StatusPublished})
	require.NoError(t, err)
	c := newClient(t, app)

	rec := c.get("/robots.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Disallow: /admin/")
	assert.Contains(t, rec.Body.String(), "Sitemap: https://example.com/sitemap.xml")

	rec = c.get("/sitemap.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<loc>https://example.com/hello-world/</loc>")
	assert.Contains(t, rec.Body.String(), "<loc>https://example.com/category/uncategorized/</loc>")

	rec = c.get("/feed.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<rss")
	assert.Contains(t, rec.Body.String(), "<title>Hello World</title>")
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
}

func TestStatsEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		app := newTestApp(t)
		createUser(t, app, "admin", RoleAdministrator)
		c := newClient(t, app)
		c.login("admin", "correct-horse")

		rec := c.get("/admin/stats/", "Accept", "application/json")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, http.StatusOK, c.get("/admin/stats/").Code)
	})

	t.Run("records public views", func(t *testing.T) {
		app := newTestApp(t, func(c *Config) { c.Analytics = true })
		require.NotNil(t, app.Analytics)
		admin := createUser(t, app, "admin", RoleAdministrator)
		_, err := app.Posts.Create(context.Background(), admin, TypePost, PostInput{Title: "Hello World", Status: StatusPublished})
		require.NoError(t, err)

		visitor := newClient(t, app)
		browser := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
		require.Equal(t, http.StatusOK, visitor.get("/hello-world/", "User-Agent", browser).Code)
		require.Equal(t, http.StatusNotFound, visitor.get("/missing/", "User-Agent", browser).Code)

		c := newClient(t, app)
		c.login("admin", "correct-horse")
		rec := c.get("/admin/stats/?period=month", "Accept", "application/json")
		require.Equal(t, http.StatusOK, rec.Code)
		var env struct {
			Success bool
			Data    struct {
				Views    int `json:"views"`
				TopPages []struct {
					Path  string `json:"path"`
					Views int    `json:"views"`
				} `json:"top_pages"`
			}
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.True(t, env.Success)
		assert.Equal(t, 1, env.Data.Views)
		require.Len(t, env.Data.TopPages, 1)
		assert.Equal(t, "/hello-world/", env.Data.TopPages[0].Path)
	})
}

func TestMetricsRequireManageOptions(t *testing.T) {
	app := newTestApp(t)
	createUser(t, app, "admin", RoleAdministrator)
	c := newClient(t, app)
	assert.Equal(t, http.StatusSeeOther, c.get("/admin/metrics/").Code)

	c.login("admin", "correct-horse")
	rec := c.get("/admin/metrics/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pressli_login_attempts_total")
}

func TestThemeActivateChecksQueryToken(t *testing.T) {
	app := newTestApp(t)
	createUser(t, app, "admin", RoleAdministrator)
	dir := filepath.Join(app.Config.ThemesDir(), "Demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "theme.json"), []byte(`{"name":"Demo","root":"Demo","version":"1.0.0"}`), 0o644))
	ctx := context.Background()

	c := newClient(t, app)
	c.login("admin", "correct-horse")

	for _, path := range []string{"/admin/themes/activate/Demo/", "/admin/themes/activate/Demo/?_csrf=forged"} {
		rec := c.get(path)
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		active, err := app.Settings.Get(ctx, "active_theme")
		require.NoError(t, err)
		assert.Empty(t, active, path)
	}
	assert.Contains(t, c.get("/admin/themes/").Body.String(), "The activation link expired")

	rec := c.get("/admin/themes/activate/Demo/?_csrf=" + url.QueryEscape(c.cookies["_csrf"].Value))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	active, err := app.Settings.Get(ctx, "active_theme")
	require.NoError(t, err)
	assert.Equal(t, "Demo", active)
}

func TestPublicDatesFollowSettings(t *testing.T) {
	app := newTestApp(t)
	admin := createUser(t, app, "admin", RoleAdministrator)
	ctx := context.Background()
	_, err := app.Posts.Create(ctx, admin, TypePost, PostInput{Title: "Dated", Status: StatusPublished})
	require.NoError(t, err)
	c := newClient(t, app)

	assert.Contains(t, c.get("/dated/").Body.String(), "May 1, 2026")

	require.NoError(t, app.Settings.SaveGroup(ctx, "general", map[string]string{
		"site_title": "Dates", "timezone": "Asia/Tokyo", "date_format": "2006-01-02 15:04 MST",
	}))
	assert.Contains(t, c.get("/dated/").Body.String(), "2026-05-01 21:00 JST")
}

func TestListingSurvivesBadPostsPerPage(t *testing.T) {
	app := newTestApp(t)
	admin := createUser(t, app, "admin", RoleAdministrator)
	ctx := context.Background()
	_, err := app.Posts.Create(ctx, admin, TypePost, PostInput{Title: "Still Here", Status: StatusPublished})
	require.NoError(t, err)
	require.NoError(t, app.Store.SetSettings(ctx, map[string]string{"posts_per_page": "0"}))
	app.Settings.Flush(ctx)

	rec := newClient(t, app).get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Still Here")
}
