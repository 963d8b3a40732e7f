package pressli

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestMedia(t *testing.T, ts *testSite, maxSize int64) (*MediaLibrary, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	clock := func() time.Time { return ts.now }
	return NewMediaLibrary(ts.store, ts.settings, dir, maxSize, zap.NewNop(), clock), dir
}

func TestUploadImageMakesThumbnail(t *testing.T) {
	ts := newTestSite(t)
	lib, dir := newTestMedia(t, ts, 1<<20)

	m, err := lib.Upload(ts.ctx, ts.admin, "Photo Shoot.png", bytes.NewReader(testPNG(t, 640, 480)))
	require.NoError(t, err)
	assert.Equal(t, "2026/05/photo-shoot.png", m.Path)
	assert.Equal(t, "2026/05/photo-shoot-thumb.jpg", m.ThumbPath)
	assert.Equal(t, "image/png", m.MimeType)
	assert.Equal(t, 640, m.Width)
	assert.Equal(t, 480, m.Height)
	assert.Equal(t, "Photo Shoot", m.Title)
	assert.Equal(t, "/public/uploads/2026/05/photo-shoot.png", m.URL())

	f, err := os.Open(filepath.Join(dir, "2026", "05", "photo-shoot-thumb.jpg"))
	require.NoError(t, err)
	defer f.Close()
	thumb, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 300, thumb.Width)
	assert.Equal(t, 225, thumb.Height)

	again, err := lib.Upload(ts.ctx, ts.admin, "photo-shoot.png", bytes.NewReader(testPNG(t, 10, 10)))
	require.NoError(t, err)
	assert.Equal(t, "2026/05/photo-shoot-2.png", again.Path)
	assert.Equal(t, 10, again.Width, "small images are not scaled up")
}

func TestUploadHonorsThumbnailSetting(t *testing.T) {
	ts := newTestSite(t)
	require.NoError(t, ts.settings.SaveGroup(ts.ctx, "media", map[string]string{"thumbnail_width": "100"}))
	lib, dir := newTestMedia(t, ts, 1<<20)

	m, err := lib.Upload(ts.ctx, ts.admin, "wide.png", bytes.NewReader(testPNG(t, 400, 200)))
	require.NoError(t, err)
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(m.ThumbPath)))
	require.NoError(t, err)
	defer f.Close()
	thumb, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 100, thumb.Width)
	assert.Equal(t, 50, thumb.Height)
}

func TestUploadRejectsBadFiles(t *testing.T) {
	ts := newTestSite(t)
	lib, _ := newTestMedia(t, ts, 1024)
	reader := ts.user(t, "reader", RoleSubscriber)

	tests := []struct {
		name  string
		actor *User
		file  string
		data  []byte
		want  error
	}{
		{"extension", ts.admin, "tool.exe", []byte("MZ"), ErrInvalid},
		{"content mismatch", ts.admin, "fake.jpg", testPNG(t, 4, 4), ErrInvalid},
		{"not an image", ts.admin, "notes.png", []byte("plain text pretending"), ErrInvalid},
		{"empty", ts.admin, "empty.txt", nil, ErrInvalid},
		{"too large", ts.admin, "big.txt", []byte(strings.Repeat("a", 2048)), ErrInvalid},
		{"no capability", reader, "notes.txt", []byte("hello"), ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lib.Upload(ts.ctx, tt.actor, tt.file, bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUploadPlainFileHasNoThumbnail(t *testing.T) {
	ts := newTestSite(t)
	lib, _ := newTestMedia(t, ts, 1024)
	m, err := lib.Upload(ts.ctx, ts.admin, `C:\Users\me\Readme.TXT`, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "2026/05/readme.txt", m.Path)
	assert.Empty(t, m.ThumbPath)
	assert.Equal(t, m.URL(), m.ThumbURL())
	assert.False(t, m.IsImage())
}

func TestUploadNeverOverwritesFiles(t *testing.T) {
	ts := newTestSite(t)
	lib, dir := newTestMedia(t, ts, 1024)

	stray := filepath.Join(dir, "2026", "05", "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0o755))
	require.NoError(t, os.WriteFile(stray, []byte("keep me"), 0o644))

	const n = 8
	results := make(chan Media, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := lib.Upload(ts.ctx, ts.admin, "notes.txt", strings.NewReader(fmt.Sprintf("upload %d", i)))
			if err != nil {
				errs <- err
				return
			}
			results <- m
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := os.ReadFile(stray)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))

	paths, bodies := map[string]bool{}, map[string]bool{}
	for m := range results {
		assert.NotEqual(t, "2026/05/notes.txt", m.Path)
		assert.False(t, paths[m.Path], "path %s handed out twice", m.Path)
		paths[m.Path] = true
		body, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(m.Path)))
		require.NoError(t, err)
		assert.Equal(t, m.Size, int64(len(body)))
		bodies[string(body)] = true
	}
	assert.Len(t, paths, n)
	assert.Len(t, bodies, n, "every upload kept its own content")
}

func TestMediaMetaAndDelete(t *testing.T) {
	ts := newTestSite(t)
	lib, dir := newTestMedia(t, ts, 1<<20)
	author := ts.user(t, "writer", RoleAuthor)
	other := ts.user(t, "other", RoleAuthor)

	m, err := lib.Upload(ts.ctx, author, "cat.png", bytes.NewReader(testPNG(t, 20, 20)))
	require.NoError(t, err)

	_, err = lib.UpdateMeta(ts.ctx, author, m.ID, " ", "", "")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = lib.UpdateMeta(ts.ctx, other, m.ID, "Mine now", "", "")
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := lib.UpdateMeta(ts.ctx, author, m.ID, "Cat", "A sleeping cat", "Taken at home")
	require.NoError(t, err)
	assert.Equal(t, "A sleeping cat", updated.AltText)

	require.NoError(t, lib.Delete(ts.ctx, ts.admin, m.ID))
	_, err = lib.Get(ts.ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(m.Path)), "files stay on disk after a soft delete")

	list, total, err := lib.List(ts.ctx, MediaQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}
