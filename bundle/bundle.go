// Package bundle handles the file plumbing shared by theme, plugin and core
// update packages: staging ZIP extraction, manifest lookup, directory copy
// and backups.
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnsafePath is returned when an archive entry would escape the staging dir.
	ErrUnsafePath = errors.New("bundle: archive entry escapes destination")
	// ErrTooLarge is returned when the uncompressed archive exceeds the limit.
	ErrTooLarge = errors.New("bundle: archive too large")
	// ErrManifestMissing is returned when no manifest is found at the package root.
	ErrManifestMissing = errors.New("bundle: manifest not found")
)

// DefaultMaxExtracted caps the total uncompressed size of one package.
const DefaultMaxExtracted = 200 << 20

// Staging is a temporary directory holding an extracted package.
type Staging struct {
	Dir string
}

// Extract unpacks the ZIP at zipPath into a fresh directory under stagingRoot.
// The caller must call Cleanup on the returned Staging, also on error paths
// after a successful return.
func Extract(zipPath, stagingRoot string, maxBytes int64) (*Staging, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxExtracted
	}
	r, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		if r != nil {
			r.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return nil, err
	}
	dir := filepath.Join(stagingRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	st := &Staging{Dir: dir}

	var total int64
	for _, f := range r.File {
		target, err := safeJoin(dir, f.Name)
		if err != nil {
			st.Cleanup()
			return nil, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				st.Cleanup()
				return nil, err
			}
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			continue
		}
		n, err := extractFile(f, target, maxBytes-total)
		total += n
		if err != nil {
			st.Cleanup()
			return nil, err
		}
	}
	return st, nil
}

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if remaining <= 0 {
		return 0, ErrTooLarge
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, io.LimitReader(src, remaining+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > remaining {
		return n, ErrTooLarge
	}
	return n, nil
}

// safeJoin resolves name inside root, rejecting absolute paths and "..".
func safeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// Cleanup removes the staging directory.
func (s *Staging) Cleanup() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// FindManifest returns the directory inside the staging area that holds the
// manifest file: either the staging root itself or its single top-level
// directory (archives are commonly zipped with a wrapping folder).
func (s *Staging) FindManifest(name string) (string, error) {
	if fileExists(filepath.Join(s.Dir, name)) {
		return s.Dir, nil
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "__MACOSX") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		return "", fmt.Errorf("%w: %s", ErrManifestMissing, name)
	}
	if len(dirs) == 1 {
		candidate := filepath.Join(s.Dir, dirs[0])
		if fileExists(filepath.Join(candidate, name)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrManifestMissing, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
