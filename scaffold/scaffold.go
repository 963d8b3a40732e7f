// Package scaffold generates the skeleton of a new theme for the pressli CLI.
package scaffold

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
)

// Templates contains the theme skeleton. Files use Go text/template syntax
// with [[ ]] delimiters, so the html/template actions of the generated views
// pass through untouched. A .tmpl suffix is stripped on output.
//
//go:embed all:templates
var Templates embed.FS

var rootPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

// ErrExists is returned when the target directory already exists.
var ErrExists = errors.New("scaffold: directory already exists")

// ThemeData holds the template variables passed to every skeleton file.
type ThemeData struct {
	Name   string // display name, e.g. "Ocean Breeze"
	Root   string // PascalCase root, e.g. "OceanBreeze"
	Slug   string // lowercase root used for public assets
	Author string
}

// RootFromName derives a PascalCase theme root from a display name.
// e.g. "ocean breeze" -> "OceanBreeze", "my-theme" -> "MyTheme"
func RootFromName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	root := strings.Join(parts, "")
	for root != "" && !(root[0] >= 'A' && root[0] <= 'Z') {
		root = root[1:]
	}
	return root
}

// Theme writes a theme skeleton to themesDir/{Root} and returns the created
// file paths.
func Theme(themesDir string, data ThemeData) ([]string, error) {
	if data.Root == "" {
		data.Root = RootFromName(data.Name)
	}
	if !rootPattern.MatchString(data.Root) {
		return nil, fmt.Errorf("scaffold: theme root %q must be PascalCase", data.Root)
	}
	if data.Name == "" {
		data.Name = data.Root
	}
	data.Slug = strings.ToLower(data.Root)

	dir := filepath.Join(themesDir, data.Root)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, dir)
	}

	const root = "templates/theme"
	var created []string
	err := fs.WalkDir(Templates, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out := strings.TrimSuffix(filepath.Join(dir, rel), ".tmpl")
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}

		content, err := Templates.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		tmpl, err := template.New(filepath.Base(path)).Delims("[[", "]]").Parse(string(content))
		if err != nil {
			return fmt.Errorf("parse template %s: %w", path, err)
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		if err := tmpl.Execute(f, data); err != nil {
			return fmt.Errorf("execute template %s: %w", path, err)
		}
		created = append(created, out)
		return nil
	})
	if err != nil {
		return created, err
	}
	return created, nil
}
