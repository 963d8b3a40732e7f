package bundle

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.zip")
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

func TestExtractAndFindManifestAtRoot(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"theme.json":      `{"name":"Plain"}`,
		"views/home.html": "<h1>home</h1>",
	})
	st, err := Extract(zipPath, t.TempDir(), 0)
	require.NoError(t, err)
	defer st.Cleanup()

	dir, err := st.FindManifest("theme.json")
	require.NoError(t, err)
	assert.Equal(t, st.Dir, dir)
	body, err := os.ReadFile(filepath.Join(dir, "views", "home.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>home</h1>", string(body))
}

func TestFindManifestInWrappingDir(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"plain-1.0/theme.json": `{}`,
		"__MACOSX/._x":         "junk",
	})
	st, err := Extract(zipPath, t.TempDir(), 0)
	require.NoError(t, err)
	defer st.Cleanup()

	dir, err := st.FindManifest("theme.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(st.Dir, "plain-1.0"), dir)
}

func TestFindManifestMissing(t *testing.T) {
	zipPath := writeZip(t, map[string]string{"a/readme.txt": "x", "b/readme.txt": "y"})
	st, err := Extract(zipPath, t.TempDir(), 0)
	require.NoError(t, err)
	defer st.Cleanup()

	_, err = st.FindManifest("theme.json")
	assert.ErrorIs(t, err, ErrManifestMissing)
}

func TestExtractRejectsZipSlip(t *testing.T) {
	root := t.TempDir()
	zipPath := writeZip(t, map[string]string{"../evil.txt": "boom"})
	_, err := Extract(zipPath, root, 0)
	assert.ErrorIs(t, err, ErrUnsafePath)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging dir should be removed on failure")
	_, err = os.Stat(filepath.Join(filepath.Dir(root), "evil.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractEnforcesSizeLimit(t *testing.T) {
	zipPath := writeZip(t, map[string]string{"big.txt": string(make([]byte, 2048))})
	_, err := Extract(zipPath, t.TempDir(), 1024)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestBackupAndReplaceDir(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	dst := filepath.Join(base, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "a.txt"), []byte("new"), 0o644))
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "old.txt"), []byte("old"), 0o644))

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	backup, err := Backup(dst, filepath.Join(base, "backups"), "Theme", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "backups", "Theme-20260304-050607"), backup)
	assert.FileExists(t, filepath.Join(backup, "old.txt"))

	require.NoError(t, ReplaceDir(src, dst))
	assert.FileExists(t, filepath.Join(dst, "sub", "a.txt"))
	assert.NoFileExists(t, filepath.Join(dst, "old.txt"))
}

func TestBackupMissingDir(t *testing.T) {
	path, err := Backup(filepath.Join(t.TempDir(), "nope"), t.TempDir(), "X", time.Now())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLockerSerializesPerKey(t *testing.T) {
	l := NewLocker()
	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("Twenty")
			defer unlock()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}
