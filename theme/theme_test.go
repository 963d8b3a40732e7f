package theme

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressli/pressli/bundle"
)

type memSettings struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memSettings) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *memSettings) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func newTestManager(t *testing.T) (*Manager, *memSettings, string) {
	t.Helper()
	base := t.TempDir()
	settings := &memSettings{m: map[string]string{}}
	m := NewManager(Config{
		ThemesDir:  filepath.Join(base, "themes"),
		AssetsDir:  filepath.Join(base, "public", "themes"),
		BackupDir:  filepath.Join(base, "data", "backups", "themes"),
		StagingDir: filepath.Join(base, "data", "staging"),
	}, settings, nil)
	m.SetClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
	return m, settings, base
}

func themeZip(t *testing.T, prefix, manifest string, extra map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{"theme.json": manifest}
	for k, v := range extra {
		files[k] = v
	}
	for name, body := range files {
		w, err := zw.Create(prefix + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(t.TempDir(), "theme.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

const twentyV1 = `{"name":"Twenty","root":"Twenty","version":"1.0.0","author":"Ana",
 "screenshot":"screenshot.png","menus":{"primary":"Main"},
 "settings":[{"key":"accent","label":"Accent","type":"color","default":"#000000"},
             {"key":"layout","label":"Layout","type":"select","options":["wide","narrow"],"default":"wide"},
             {"key":"dark","label":"Dark","type":"boolean","default":false}]}`

func TestParseManifestValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
		ok   bool
	}{
		{"valid", twentyV1, true},
		{"bad json", `{`, false},
		{"missing name", `{"root":"X","version":"1"}`, false},
		{"lowercase root", `{"name":"x","root":"twenty","version":"1"}`, false},
		{"missing version", `{"name":"x","root":"X"}`, false},
		{"unknown setting type", `{"name":"x","root":"X","version":"1","settings":[{"key":"a","type":"range"}]}`, false},
		{"select without options", `{"name":"x","root":"X","version":"1","settings":[{"key":"a","type":"select"}]}`, false},
		{"duplicate setting", `{"name":"x","root":"X","version":"1","settings":[{"key":"a","type":"text"},{"key":"a","type":"text"}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.json))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidManifest)
			}
		})
	}
}

func TestCleanMods(t *testing.T) {
	man, err := ParseManifest([]byte(twentyV1))
	require.NoError(t, err)

	got, err := man.CleanMods(map[string]any{"accent": " #AABBCC ", "layout": "narrow", "dark": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"accent": "#aabbcc", "layout": "narrow", "dark": true}, got)

	for _, bad := range []map[string]any{
		{"accent": "red"},
		{"layout": "tall"},
		{"dark": "yes"},
		{"nope": "x"},
	} {
		_, err := man.CleanMods(bad)
		assert.ErrorIs(t, err, ErrInvalidSetting, "%v", bad)
	}
}

func TestInstallListActivate(t *testing.T) {
	m, settings, base := newTestManager(t)
	ctx := context.Background()

	zipPath := themeZip(t, "twenty/", twentyV1, map[string]string{
		"views/home.html":       `{{define "content"}}<p>twenty home</p>{{end}}`,
		"assets/screenshot.png": "png",
		"assets/css/site.css":   "body{}",
	})
	th, err := m.Install(ctx, zipPath)
	require.NoError(t, err)
	assert.Equal(t, "Twenty", th.Root)
	assert.FileExists(t, filepath.Join(base, "themes", "Twenty", "theme.json"))
	assert.FileExists(t, filepath.Join(base, "public", "themes", "twenty", "css", "site.css"))

	entries, err := os.ReadDir(filepath.Join(base, "data", "staging"))
	require.NoError(t, err)
	assert.Empty(t, entries, "staging dir must be cleaned up")

	_, err = m.Install(ctx, zipPath)
	assert.ErrorIs(t, err, ErrExists)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Builtin)
	assert.True(t, list[0].Active)
	assert.Equal(t, "/public/themes/twenty/screenshot.png", list[1].ScreenshotURL())

	_, err = m.Activate(ctx, "Twenty")
	require.NoError(t, err)
	assert.Equal(t, "Twenty", settings.m[ActiveSetting])

	var out bytes.Buffer
	require.NoError(t, m.Renderer().Render(ctx, &out, View{Site: Site{Title: "Site"}}, "home"))
	assert.Contains(t, out.String(), "twenty home")
	assert.Contains(t, out.String(), "<title>Site</title>", "built-in layout used when the theme has none")

	out.Reset()
	require.NoError(t, m.Renderer().Render(ctx, &out, View{Site: Site{Title: "Site"}}, "missing", "404"))
	assert.Contains(t, out.String(), "Page not found")

	assert.ErrorIs(t, m.Delete(ctx, "Twenty"), ErrActive)
}

func TestUpdateBacksUpAndReplaces(t *testing.T) {
	m, _, base := newTestManager(t)
	ctx := context.Background()

	_, err := m.Install(ctx, themeZip(t, "", twentyV1, map[string]string{"views/old.html": "old"}))
	require.NoError(t, err)

	_, err = m.Update(ctx, themeZip(t, "", twentyV1, nil))
	assert.ErrorIs(t, err, ErrSameVersion)

	v2 := `{"name":"Twenty","root":"Twenty","version":"2.0.0"}`
	th, err := m.Update(ctx, themeZip(t, "", v2, map[string]string{"views/new.html": "new"}))
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", th.Version)

	dir := filepath.Join(base, "themes", "Twenty")
	assert.FileExists(t, filepath.Join(dir, "views", "new.html"))
	assert.NoFileExists(t, filepath.Join(dir, "views", "old.html"))
	assert.FileExists(t, filepath.Join(base, "data", "backups", "themes", "Twenty-20260102-030405", "views", "old.html"))

	other := `{"name":"Other","root":"Other","version":"1"}`
	_, err = m.Update(ctx, themeZip(t, "", other, nil))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRestoresBackupWhenCopyFails(t *testing.T) {
	m, _, base := newTestManager(t)
	ctx := context.Background()
	_, err := m.Install(ctx, themeZip(t, "", twentyV1, map[string]string{
		"views/old.html": "old", "assets/a.css": "a",
	}))
	require.NoError(t, err)

	m.replaceDir = func(src, dst string) error {
		if strings.HasPrefix(dst, m.cfg.AssetsDir) {
			return errors.New("disk full")
		}
		return bundle.ReplaceDir(src, dst)
	}
	v2 := `{"name":"Twenty","root":"Twenty","version":"2.0.0"}`
	_, err = m.Update(ctx, themeZip(t, "", v2, map[string]string{
		"views/new.html": "new", "assets/b.css": "b",
	}))
	require.Error(t, err)

	dir := filepath.Join(base, "themes", "Twenty")
	assert.FileExists(t, filepath.Join(dir, "views", "old.html"))
	assert.NoFileExists(t, filepath.Join(dir, "views", "new.html"))
	assert.FileExists(t, filepath.Join(base, "public", "themes", "twenty", "a.css"))
	th, err := m.Get("Twenty")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", th.Version)
}

func TestInstallFailureRemovesPartialCopy(t *testing.T) {
	m, _, base := newTestManager(t)
	m.replaceDir = func(src, dst string) error {
		if strings.HasPrefix(dst, m.cfg.AssetsDir) {
			return errors.New("disk full")
		}
		return bundle.ReplaceDir(src, dst)
	}
	_, err := m.Install(context.Background(), themeZip(t, "", twentyV1, map[string]string{"assets/a.css": "a"}))
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(base, "themes", "Twenty"))
}

func TestRenderUsesSiteDateFormat(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	type entry struct {
		Title      string
		Date       time.Time
		AuthorName string
		Content    string
		JSONLD     string
		Categories []struct{ URL, Name string }
		Tags       []struct{ URL, Name string }
	}
	view := View{
		Site:  Site{Title: "Site", DateFormat: "2006-01-02 15:04", Timezone: "Asia/Tokyo"},
		Entry: entry{Title: "Hello", Date: time.Date(2026, 5, 1, 20, 30, 0, 0, time.UTC)},
	}

	var out bytes.Buffer
	require.NoError(t, m.Renderer().Render(ctx, &out, view, "single"))
	assert.Contains(t, out.String(), "2026-05-02 05:30")

	view.Site.DateFormat = ""
	out.Reset()
	require.NoError(t, m.Renderer().Render(ctx, &out, view, "single"))
	assert.Contains(t, out.String(), "May 2, 2026")
}

func TestDeleteInactiveTheme(t *testing.T) {
	m, _, base := newTestManager(t)
	ctx := context.Background()
	_, err := m.Install(ctx, themeZip(t, "", twentyV1, map[string]string{"assets/a.css": ""}))
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "Twenty"))
	assert.NoDirExists(t, filepath.Join(base, "themes", "Twenty"))
	assert.NoDirExists(t, filepath.Join(base, "public", "themes", "twenty"))
	assert.ErrorIs(t, m.Delete(ctx, "Twenty"), ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, BuiltinRoot), ErrActive)
}

func TestModsMergeDefaults(t *testing.T) {
	m, settings, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Install(ctx, themeZip(t, "", twentyV1, nil))
	require.NoError(t, err)

	mods, err := m.Mods(ctx, "Twenty")
	require.NoError(t, err)
	assert.Equal(t, "#000000", mods["accent"])

	saved, err := m.SaveMods(ctx, "Twenty", map[string]any{"layout": "narrow"})
	require.NoError(t, err)
	assert.Equal(t, "narrow", saved["layout"])
	assert.Equal(t, "#000000", saved["accent"])
	assert.Contains(t, settings.m["theme_mods_Twenty"], `"layout":"narrow"`)

	_, err = m.SaveMods(ctx, "Twenty", map[string]any{"accent": "blue"})
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestBrokenThemeIsSkipped(t *testing.T) {
	m, _, base := newTestManager(t)
	dir := filepath.Join(base, "themes", "Broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "theme.json"), []byte("{"), 0o644))

	list, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
