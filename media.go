package pressli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 80

// allowedMedia maps accepted extensions to their MIME type.
var allowedMedia = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".txt":  "text/plain",
}

// HumanSize formats the file size for display.
func (m Media) HumanSize() string {
	return humanize.Bytes(uint64(m.Size))
}

// MediaLibrary stores uploads under the uploads dir and records them.
type MediaLibrary struct {
	store    *Store
	settings *Settings
	dir      string
	maxSize  int64
	log      *zap.Logger
	now      func() time.Time
}

// NewMediaLibrary creates a MediaLibrary writing to dir.
func NewMediaLibrary(store *Store, settings *Settings, dir string, maxSize int64, log *zap.Logger, now func() time.Time) *MediaLibrary {
	return &MediaLibrary{store: store, settings: settings, dir: dir, maxSize: maxSize, log: log, now: now}
}

// List returns a page of media and the total count.
func (l *MediaLibrary) List(ctx context.Context, q MediaQuery) ([]Media, int, error) {
	return l.store.ListMedia(ctx, q)
}

// Get returns a media item.
func (l *MediaLibrary) Get(ctx context.Context, id int64) (Media, error) {
	m, err := l.store.GetMedia(ctx, id)
	return m, notFoundAs(err, "Media item")
}

// Upload validates and stores a file. Images get their dimensions recorded
// and a JPEG thumbnail.
func (l *MediaLibrary) Upload(ctx context.Context, actor *User, name string, src io.Reader) (Media, error) {
	if !actor.Can(CapUploadFiles) {
		return Media{}, Forbidden("You are not allowed to upload files")
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(name))
	mimeType, ok := allowedMedia[ext]
	if !ok {
		return Media{}, Invalid("Files of type %q are not allowed", ext)
	}
	data, err := io.ReadAll(io.LimitReader(src, l.maxSize+1))
	if err != nil {
		return Media{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return Media{}, Invalid("File is too large (max %s)", humanize.Bytes(uint64(l.maxSize)))
	}
	if len(data) == 0 {
		return Media{}, Invalid("File is empty")
	}
	if sniffed := http.DetectContentType(data); !contentMatches(mimeType, sniffed) {
		return Media{}, Invalid("File content does not match its %s extension", ext)
	}
	if ext == ".jpeg" {
		ext = ".jpg"
	}

	m := Media{
		OriginalName: name,
		Title:        strings.TrimSuffix(name, filepath.Ext(name)),
		MimeType:     mimeType,
		Size:         int64(len(data)),
		UploadedBy:   actor.ID,
	}

	var thumb []byte
	if m.IsImage() {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Media{}, Invalid("Invalid image: %v", err)
		}
		b := img.Bounds()
		m.Width, m.Height = b.Dx(), b.Dy()
		if thumb, err = makeThumbnail(img, l.settings.Int(ctx, "thumbnail_width", 300)); err != nil {
			return Media{}, err
		}
	}

	// A concurrent upload can claim the same row between place and insert.
	for attempt := 0; ; attempt++ {
		if err := l.place(ctx, &m, ext, data, thumb); err != nil {
			return Media{}, err
		}
		err := l.store.CreateMedia(ctx, &m)
		if err == nil {
			break
		}
		l.removeFiles(m)
		if !errors.Is(err, ErrConflict) || attempt == 4 {
			return Media{}, err
		}
	}
	l.log.Info("media uploaded", zap.Int64("id", m.ID), zap.String("path", m.Path), zap.Int64("size", m.Size))
	return m, nil
}

// contentMatches checks the sniffed type for formats the sniffer knows.
func contentMatches(declared, sniffed string) bool {
	switch {
	case strings.HasPrefix(declared, "image/"):
		return sniffed == declared
	case declared == "application/pdf", declared == "application/zip":
		return sniffed == declared
	}
	return true
}

// place picks a free yyyy/mm/{slug}.{ext} path, appending -2, -3 ... when
// the name is used on disk or in the table, and writes the files. Files are
// created exclusively so a name is never claimed twice.
func (l *MediaLibrary) place(ctx context.Context, m *Media, ext string, data, thumb []byte) error {
	month := l.now().UTC().Format("2006/01")
	base := Slugify(m.Title)
	if base == "" {
		base = "file"
	}
	if err := os.MkdirAll(filepath.Join(l.dir, filepath.FromSlash(month)), 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}
	candidate := base
	for n := 2; ; n, candidate = n+1, fmt.Sprintf("%s-%d", base, n) {
		rel := path.Join(month, candidate+ext)
		thumbRel := ""
		if thumb != nil {
			thumbRel = path.Join(month, candidate+"-thumb.jpg")
		}
		taken, err := l.taken(ctx, rel, thumbRel)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		if err := writeExclusive(l.abs(rel), data); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return fmt.Errorf("write upload: %w", err)
		}
		if thumb != nil {
			if err := writeExclusive(l.abs(thumbRel), thumb); err != nil {
				os.Remove(l.abs(rel))
				if errors.Is(err, fs.ErrExist) {
					continue
				}
				return fmt.Errorf("write thumbnail: %w", err)
			}
		}
		m.Filename, m.Path, m.ThumbPath = candidate+ext, rel, thumbRel
		return nil
	}
}

// taken reports whether any of paths is recorded in the media table.
func (l *MediaLibrary) taken(ctx context.Context, paths ...string) (bool, error) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		taken, err := l.store.MediaPathTaken(ctx, p)
		if err != nil || taken {
			return taken, err
		}
	}
	return false, nil
}

// writeExclusive creates name and writes data, failing with fs.ErrExist when
// the file is already there.
func writeExclusive(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func (l *MediaLibrary) abs(rel string) string {
	return filepath.Join(l.dir, filepath.FromSlash(rel))
}

func (l *MediaLibrary) removeFiles(m Media) {
	for _, p := range []string{m.Path, m.ThumbPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(l.abs(p)); err != nil && !os.IsNotExist(err) {
			l.log.Warn("remove upload failed", zap.String("path", p), zap.Error(err))
		}
	}
}

// makeThumbnail scales img down to width (never up) and encodes it as JPEG.
func makeThumbnail(img image.Image, width int) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if width > 0 && w > width {
		h = h * width / w
		if h < 1 {
			h = 1
		}
		w = width
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (l *MediaLibrary) authorize(actor *User, m Media) error {
	if !actor.Can(CapUploadFiles) {
		return Forbidden("You are not allowed to manage media")
	}
	if m.UploadedBy != actor.ID && !actor.Can(CapEditOthers) {
		return Forbidden("You can only change your own uploads")
	}
	return nil
}

// UpdateMeta changes the title, alt text and caption of a media item.
func (l *MediaLibrary) UpdateMeta(ctx context.Context, actor *User, id int64, title, alt, caption string) (Media, error) {
	m, err := l.Get(ctx, id)
	if err != nil {
		return Media{}, err
	}
	if err := l.authorize(actor, m); err != nil {
		return Media{}, err
	}
	m.Title = strings.TrimSpace(title)
	if m.Title == "" {
		return Media{}, Invalid("Title is required")
	}
	m.AltText, m.Caption = strings.TrimSpace(alt), strings.TrimSpace(caption)
	if err := l.store.UpdateMediaMeta(ctx, m); err != nil {
		return Media{}, err
	}
	return m, nil
}

// Delete soft-deletes a media item. The file stays on disk.
func (l *MediaLibrary) Delete(ctx context.Context, actor *User, id int64) error {
	m, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := l.authorize(actor, m); err != nil {
		return err
	}
	return l.store.DeleteMedia(ctx, id)
}
