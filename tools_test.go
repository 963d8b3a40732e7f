package pressli

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTools(t *testing.T, ts *testSite) (*Tools, ToolsConfig) {
	t.Helper()
	root := t.TempDir()
	cfg := ToolsConfig{
		PublicDir:  filepath.Join(root, "public"),
		BackupDir:  filepath.Join(root, "backups"),
		StagingDir: filepath.Join(root, "staging"),
		MaxArchive: 1 << 20,
	}
	clock := func() time.Time { return ts.now }
	return NewTools(ts.store, ts.settings, ts.posts, cfg, zap.NewNop(), clock), cfg
}

// seedContent fills a site with a small tree of every exportable record.
func seedContent(t *testing.T, ts *testSite) {
	t.Helper()
	news, err := ts.terms.Create(ts.ctx, TaxonomyCategory, TermInput{Name: "News"})
	require.NoError(t, err)
	local, err := ts.terms.Create(ts.ctx, TaxonomyCategory, TermInput{Name: "Local", ParentID: news.ID})
	require.NoError(t, err)

	ts.post(t, TypePost, PostInput{Title: "Hello", Content: "<p>hi</p>", CategoryIDs: []int64{local.ID}, Tags: []string{"Go", "Web"}})
	ts.post(t, TypePost, PostInput{Title: "Draft idea", Status: StatusDraft})
	about := ts.post(t, TypePage, PostInput{Title: "About"})
	ts.post(t, TypePage, PostInput{Title: "Team", ParentID: about.ID, Template: "wide"})

	m, err := ts.menus.Create(ts.ctx, MenuInput{Name: "Main", Location: "primary"}, testLocations)
	require.NoError(t, err)
	_, err = ts.menus.SaveItems(ts.ctx, m.ID, []*MenuItem{
		{Kind: MenuItemPage, ObjectID: about.ID, Children: []*MenuItem{
			{Kind: MenuItemCategory, ObjectID: news.ID},
		}},
		{Kind: MenuItemCustom, Title: "Source", URL: "https://example.com/src", Target: "_blank"},
	})
	require.NoError(t, err)

	require.NoError(t, ts.settings.SaveGroup(ts.ctx, "general", map[string]string{"site_title": "Exported Site", "tagline": "From elsewhere"}))
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestSite(t)
	seedContent(t, src)
	srcTools, _ := newTestTools(t, src)

	var buf bytes.Buffer
	require.NoError(t, srcTools.Export(src.ctx, &buf))

	var doc ExportDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, ExportVersion, doc.Version)
	assert.Equal(t, "Exported Site", doc.Site)
	assert.Len(t, doc.Posts, 4)
	assert.Len(t, doc.Terms, 5, "three categories and two tags")

	dst := newTestSite(t)
	dstTools, _ := newTestTools(t, dst)
	rep, err := dstTools.Import(dst.ctx, dst.admin, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Terms: 4, Posts: 4, Menus: 1, Settings: 3, Skipped: 1}, rep)

	local, err := dst.terms.BySlug(dst.ctx, TaxonomyCategory, "local")
	require.NoError(t, err)
	news, err := dst.terms.BySlug(dst.ctx, TaxonomyCategory, "news")
	require.NoError(t, err)
	assert.Equal(t, news.ID, local.ParentID)

	hello, err := dst.posts.Published(dst.ctx, "hello")
	require.NoError(t, err)
	assert.True(t, hello.HasCategory(local.ID))
	assert.Equal(t, "Go, Web", hello.TagNames())
	assert.Equal(t, dst.admin.ID, hello.AuthorID)

	draft, err := dst.store.GetPostBySlug(dst.ctx, "draft-idea")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, draft.Status)

	about, err := dst.store.GetPostBySlug(dst.ctx, "about")
	require.NoError(t, err)
	team, err := dst.store.GetPostBySlug(dst.ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, about.ID, team.ParentID)
	assert.Equal(t, "wide", team.Template)

	links, err := dst.menus.Resolve(dst.ctx, "primary")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "/about/", links[0].URL)
	require.Len(t, links[0].Children, 1)
	assert.Equal(t, "/category/news/", links[0].Children[0].URL)
	assert.Equal(t, "_blank", links[1].Target)

	title, err := dst.settings.Get(dst.ctx, "site_title")
	require.NoError(t, err)
	assert.Equal(t, "Exported Site", title)

	rep, err = dstTools.Import(dst.ctx, dst.admin, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Zero(t, rep.Posts+rep.Terms+rep.Menus, "a second import creates nothing")
}

func TestImportRejectsBadDocuments(t *testing.T) {
	ts := newTestSite(t)
	tools, _ := newTestTools(t, ts)

	_, err := tools.Import(ts.ctx, ts.admin, strings.NewReader("not json"))
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = tools.Import(ts.ctx, ts.admin, strings.NewReader(`{"version":"9"}`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestImportSanitizesContent(t *testing.T) {
	ts := newTestSite(t)
	tools, _ := newTestTools(t, ts)
	doc := `{"version":"1","posts":[
		{"type":"post","title":"Evil","slug":"evil","format":"html","status":"published",
		 "content":"<p>ok</p><script>alert(1)</script>","template":"../x"},
		{"type":"attachment","title":"Skip me","slug":"skip"}]}`

	rep, err := tools.Import(ts.ctx, ts.admin, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Posts)
	assert.Equal(t, 1, rep.Skipped)

	p, err := ts.posts.Published(ts.ctx, "evil")
	require.NoError(t, err)
	assert.NotContains(t, p.Content, "<script>")
	def := int64(ts.settings.Int(ts.ctx, "default_category", 0))
	assert.True(t, p.HasCategory(def))
}

func TestImportValidatesSettings(t *testing.T) {
	ts := newTestSite(t)
	tools, _ := newTestTools(t, ts)
	doc := `{"version":"1","settings":[
		{"key":"posts_per_page","value":"0"},
		{"key":"show_on_front","value":"banana"},
		{"key":"timezone","value":"Mars/Olympus"},
		{"key":"thumbnail_width","value":"120"},
		{"key":"active_theme","value":"Evil"}]}`

	rep, err := tools.Import(ts.ctx, ts.admin, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settings, "only the media group is valid")
	assert.Equal(t, 2, rep.Skipped)

	assert.Equal(t, 10, ts.settings.Int(ts.ctx, "posts_per_page", 0))
	assert.Equal(t, 120, ts.settings.Int(ts.ctx, "thumbnail_width", 0))
	tz, err := ts.settings.Get(ts.ctx, "timezone")
	require.NoError(t, err)
	assert.Equal(t, "UTC", tz)
	theme, err := ts.settings.Get(ts.ctx, "active_theme")
	require.NoError(t, err)
	assert.Empty(t, theme, "keys outside the settings groups are ignored")
}

func TestExportImportFrontPageBySlug(t *testing.T) {
	src := newTestSite(t)
	src.post(t, TypePage, PostInput{Title: "Filler"})
	home := src.post(t, TypePage, PostInput{Title: "Welcome"})
	require.NoError(t, src.settings.SaveGroup(src.ctx, "reading", map[string]string{
		"posts_per_page": "5", "show_on_front": "page", "page_on_front": strconv.FormatInt(home.ID, 10),
	}))
	srcTools, _ := newTestTools(t, src)
	var buf bytes.Buffer
	require.NoError(t, srcTools.Export(src.ctx, &buf))
	var doc ExportDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Contains(t, doc.Settings, ExportSetting{Key: "page_on_front", Value: "welcome"})

	dst := newTestSite(t)
	dst.post(t, TypePage, PostInput{Title: "Existing"})
	dstTools, _ := newTestTools(t, dst)
	_, err := dstTools.Import(dst.ctx, dst.admin, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	welcome, err := dst.store.GetPostBySlug(dst.ctx, "welcome")
	require.NoError(t, err)
	front, err := dst.settings.Get(dst.ctx, "page_on_front")
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(welcome.ID, 10), front)
	assert.Equal(t, 5, dst.settings.Int(dst.ctx, "posts_per_page", 0))
}

func TestImportRejectsParentCycles(t *testing.T) {
	ts := newTestSite(t)
	tools, _ := newTestTools(t, ts)
	doc := `{"version":"1",
		"terms":[
			{"taxonomy":"category","name":"A","slug":"a","parent":"b"},
			{"taxonomy":"category","name":"B","slug":"b","parent":"a"}],
		"posts":[
			{"type":"page","title":"X","slug":"x","format":"html","status":"published","parent":"y"},
			{"type":"page","title":"Y","slug":"y","format":"html","status":"published","parent":"x"}]}`

	rep, err := tools.Import(ts.ctx, ts.admin, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Terms)
	assert.Equal(t, 2, rep.Posts)

	a, err := ts.terms.BySlug(ts.ctx, TaxonomyCategory, "a")
	require.NoError(t, err)
	b, err := ts.terms.BySlug(ts.ctx, TaxonomyCategory, "b")
	require.NoError(t, err)
	assert.True(t, (a.ParentID == 0) != (b.ParentID == 0), "exactly one link is kept")

	list, err := ts.terms.List(ts.ctx, TaxonomyCategory, "")
	require.NoError(t, err)
	assert.Len(t, list, 3, "both imported categories stay reachable next to the default one")

	x, err := ts.store.GetPostBySlug(ts.ctx, "x")
	require.NoError(t, err)
	y, err := ts.store.GetPostBySlug(ts.ctx, "y")
	require.NoError(t, err)
	assert.True(t, (x.ParentID == 0) != (y.ParentID == 0), "exactly one link is kept")
}

func TestImportKeepsKnownAuthors(t *testing.T) {
	ts := newTestSite(t)
	tools, _ := newTestTools(t, ts)
	writer := ts.user(t, "writer", RoleAuthor)
	doc := `{"version":"1","posts":[
		{"type":"post","title":"Mine","slug":"mine","format":"html","status":"draft","author":"writer"},
		{"type":"post","title":"Orphan","slug":"orphan","format":"html","status":"draft","author":"ghost"}]}`

	_, err := tools.Import(ts.ctx, ts.admin, strings.NewReader(doc))
	require.NoError(t, err)

	mine, err := ts.store.GetPostBySlug(ts.ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, writer.ID, mine.AuthorID)
	orphan, err := ts.store.GetPostBySlug(ts.ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, ts.admin.ID, orphan.AuthorID)
}

func TestEmptyTrashTool(t *testing.T) {
	ts := newTestSite(t)
	tools, _ := newTestTools(t, ts)
	p := ts.post(t, TypePost, PostInput{Title: "Gone"})
	require.NoError(t, ts.posts.Trash(ts.ctx, ts.admin, TypePost, p.ID))

	n, err := tools.EmptyTrash(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func writeUpdateZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "update.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestApplyUpdate(t *testing.T) {
	ts := newTestSite(t)
	tools, cfg := newTestTools(t, ts)
	require.NoError(t, os.MkdirAll(cfg.PublicDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PublicDir, "app.css"), []byte("old"), 0o644))

	zipPath := writeUpdateZip(t, map[string]string{
		"pressli-1.1.0/update.json":       `{"version":"1.1.0","notes":"Faster"}`,
		"pressli-1.1.0/public/app.css":    "new",
		"pressli-1.1.0/public/js/site.js": "console.log(1)",
	})
	up, err := tools.ApplyUpdate(ts.ctx, zipPath)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", up.Version)

	css, err := os.ReadFile(filepath.Join(cfg.PublicDir, "app.css"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(css))
	assert.FileExists(t, filepath.Join(cfg.PublicDir, "js", "site.js"))

	backups, err := filepath.Glob(filepath.Join(cfg.BackupDir, "core", "1.0.0-*", "app.css"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	old, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))

	v, err := ts.settings.Get(ts.ctx, "core_version")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v)

	_, err = tools.ApplyUpdate(ts.ctx, zipPath)
	assert.ErrorIs(t, err, ErrConflict, "the same version cannot be applied twice")

	staged, err := os.ReadDir(cfg.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, staged, "staging is cleaned up")
}

func TestApplyUpdateRejectsPackagesWithoutPublicDir(t *testing.T) {
	ts := newTestSite(t)
	tools, _ := newTestTools(t, ts)
	zipPath := writeUpdateZip(t, map[string]string{"update.json": `{"version":"2.0.0"}`})
	_, err := tools.ApplyUpdate(ts.ctx, zipPath)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"v1.2.0", "1.1.9", 1},
		{"1.10.0", "1.9.0", 1},
		{"1.0.0", "1.0.1", -1},
		{"2.0.0-beta", "2.0.0-alpha", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
		})
	}
}
