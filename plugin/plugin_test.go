package plugin

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	recs map[string]Record
}

func newMemRepo() *memRepo { return &memRepo{recs: map[string]Record{}} }

func (r *memRepo) ListPlugins(context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.recs {
		out = append(out, rec)
	}
	return out, nil
}

func (r *memRepo) SavePlugin(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.Slug] = rec
	return nil
}

func (r *memRepo) DeletePlugin(_ context.Context, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, slug)
	return nil
}

func (r *memRepo) SetPluginStatus(_ context.Context, slug, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recs[slug]
	rec.Status = status
	r.recs[slug] = rec
	return nil
}

type shoutExt struct {
	activated, deactivated int
	failDeactivate         bool
}

func (e *shoutExt) Slug() string { return "shout" }

func (e *shoutExt) Activate(context.Context) error {
	e.activated++
	return nil
}

func (e *shoutExt) Deactivate(context.Context) error {
	e.deactivated++
	if e.failDeactivate {
		return errors.New("boom")
	}
	return nil
}

func (e *shoutExt) FilterContent(_ context.Context, html string) string {
	return strings.ToUpper(html)
}

func writePlugin(t *testing.T, dir, slug, version string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, slug), 0o755))
	body := `{"name":"` + slug + ` plugin","slug":"` + slug + `","version":"` + version + `","author":"Bo"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, slug, ManifestFile), []byte(body), 0o644))
}

func newTestManager(t *testing.T, exts ...Extension) (*Manager, *memRepo, string) {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	repo := newMemRepo()
	m := NewManager(Config{PluginsDir: dir, StagingDir: filepath.Join(base, "staging")}, repo, NewRegistry(exts...), nil)
	return m, repo, dir
}

func TestSyncDiffsDirectory(t *testing.T) {
	m, repo, dir := newTestManager(t)
	ctx := context.Background()

	writePlugin(t, dir, "seo", "1.0")
	writePlugin(t, dir, "forms", "1.0")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0o755))
	writePlugin(t, dir, "mismatch", "1.0")
	require.NoError(t, os.Rename(filepath.Join(dir, "mismatch"), filepath.Join(dir, "renamed")))

	rep, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"forms", "seo"}, rep.Added)
	assert.Equal(t, StatusInactive, repo.recs["seo"].Status)

	rep, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Changed())

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "forms")))
	writePlugin(t, dir, "seo", "1.1")
	rep, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"forms"}, rep.Removed)
	assert.Equal(t, []string{"seo"}, rep.Updated)
	assert.Equal(t, "1.1", repo.recs["seo"].Version)
}

func TestActivateRunsHooksAndFilters(t *testing.T) {
	ext := &shoutExt{failDeactivate: true}
	m, repo, dir := newTestManager(t, ext)
	ctx := context.Background()
	writePlugin(t, dir, "shout", "1.0")
	_, err := m.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, "<p>hi</p>", m.FilterContent(ctx, "<p>hi</p>"))

	rec, err := m.Activate(ctx, "shout")
	require.NoError(t, err)
	assert.True(t, rec.Active())
	assert.Equal(t, 1, ext.activated)
	assert.Equal(t, "<P>HI</P>", m.FilterContent(ctx, "<p>hi</p>"))

	_, err = m.Activate(ctx, "shout")
	require.NoError(t, err)
	assert.Equal(t, 1, ext.activated, "activating twice is a no-op")

	assert.ErrorIs(t, m.Delete(ctx, "shout"), ErrActive)

	rec, err = m.Deactivate(ctx, "shout")
	require.NoError(t, err, "a failing deactivate hook does not block deactivation")
	assert.False(t, rec.Active())
	assert.Equal(t, StatusInactive, repo.recs["shout"].Status)
	assert.Equal(t, "<p>hi</p>", m.FilterContent(ctx, "<p>hi</p>"))

	require.NoError(t, m.Delete(ctx, "shout"))
	assert.NoDirExists(t, filepath.Join(dir, "shout"))
	_, err = m.Activate(ctx, "shout")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInstallFromZip(t *testing.T) {
	m, repo, dir := newTestManager(t)
	ctx := context.Background()

	zipPath := filepath.Join(t.TempDir(), "p.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("gallery/plugin.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"name":"Gallery","slug":"gallery","version":"0.1"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	rec, err := m.Install(ctx, zipPath)
	require.NoError(t, err)
	assert.Equal(t, "gallery", rec.Slug)
	assert.FileExists(t, filepath.Join(dir, "gallery", ManifestFile))
	assert.Equal(t, StatusInactive, repo.recs["gallery"].Status)

	_, err = m.Install(ctx, zipPath)
	assert.ErrorIs(t, err, ErrExists)
}

func TestWatchRescansOnChange(t *testing.T) {
	m, repo, dir := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 20*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	writePlugin(t, dir, "late", "1.0")

	assert.Eventually(t, func() bool {
		recs, _ := repo.ListPlugins(context.Background())
		return len(recs) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry(&shoutExt{})
	assert.Panics(t, func() { r.Register(&shoutExt{}) })
}
