// Package theme manages installed themes: manifest parsing, the filesystem
// registry, ZIP install and update, activation, customizer settings and the
// html/template renderer used by the public site.
package theme

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ManifestFile is the manifest file name expected at a theme root.
const ManifestFile = "theme.json"

var (
	ErrInvalidManifest = errors.New("theme: invalid manifest")
	ErrExists          = errors.New("theme: already installed")
	ErrNotFound        = errors.New("theme: not installed")
	ErrActive          = errors.New("theme: theme is active")
	ErrSameVersion     = errors.New("theme: version already installed")
	ErrInvalidSetting  = errors.New("theme: invalid setting")
)

var (
	rootPattern  = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// Setting types understood by the customizer.
const (
	SettingText     = "text"
	SettingTextarea = "textarea"
	SettingColor    = "color"
	SettingBoolean  = "boolean"
	SettingSelect   = "select"
)

// Manifest is the decoded theme.json.
type Manifest struct {
	Name        string            `json:"name"`
	Root        string            `json:"root"`
	Version     string            `json:"version"`
	Author      string            `json:"author"`
	Description string            `json:"description"`
	Screenshot  string            `json:"screenshot"`
	Templates   map[string]string `json:"templates"`
	Menus       map[string]string `json:"menus"`
	Settings    []SettingDef      `json:"settings"`
}

// SettingDef declares one customizer option.
type SettingDef struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Type    string   `json:"type"`
	Default any      `json:"default"`
	Options []string `json:"options,omitempty"`
}

// Slug is the lowercase form of the root used for public asset paths.
func (m Manifest) Slug() string {
	return strings.ToLower(m.Root)
}

// ParseManifest decodes and validates a theme.json document.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// LoadManifest reads dir/theme.json.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return ParseManifest(data)
}

// Validate checks required fields and setting declarations.
func (m *Manifest) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.Root = strings.TrimSpace(m.Root)
	m.Version = strings.TrimSpace(m.Version)
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidManifest)
	}
	if !rootPattern.MatchString(m.Root) {
		return fmt.Errorf("%w: root %q must be PascalCase", ErrInvalidManifest, m.Root)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidManifest)
	}
	if strings.Contains(m.Screenshot, "..") {
		return fmt.Errorf("%w: screenshot path", ErrInvalidManifest)
	}
	seen := make(map[string]bool, len(m.Settings))
	for _, s := range m.Settings {
		if s.Key == "" || seen[s.Key] {
			return fmt.Errorf("%w: setting key %q missing or duplicated", ErrInvalidManifest, s.Key)
		}
		seen[s.Key] = true
		switch s.Type {
		case SettingText, SettingTextarea, SettingColor, SettingBoolean:
		case SettingSelect:
			if len(s.Options) == 0 {
				return fmt.Errorf("%w: select %q has no options", ErrInvalidManifest, s.Key)
			}
		default:
			return fmt.Errorf("%w: setting %q has unknown type %q", ErrInvalidManifest, s.Key, s.Type)
		}
	}
	return nil
}

// Defaults returns every declared setting with its default value.
func (m Manifest) Defaults() map[string]any {
	out := make(map[string]any, len(m.Settings))
	for _, s := range m.Settings {
		out[s.Key] = s.Default
	}
	return out
}

// CleanMods validates customizer values against the declared settings and
// returns the normalized values.
func (m Manifest) CleanMods(values map[string]any) (map[string]any, error) {
	defs := make(map[string]SettingDef, len(m.Settings))
	for _, s := range m.Settings {
		defs[s.Key] = s
	}
	out := make(map[string]any, len(values))
	for key, raw := range values {
		def, ok := defs[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown setting %q", ErrInvalidSetting, key)
		}
		v, err := cleanValue(def, raw)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func cleanValue(def SettingDef, raw any) (any, error) {
	if def.Type == SettingBoolean {
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be true or false", ErrInvalidSetting, def.Key)
		}
		return b, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidSetting, def.Key)
	}
	s = strings.TrimSpace(s)
	switch def.Type {
	case SettingColor:
		if !colorPattern.MatchString(s) {
			return nil, fmt.Errorf("%w: %s must be a #rrggbb color", ErrInvalidSetting, def.Key)
		}
		return strings.ToLower(s), nil
	case SettingSelect:
		for _, o := range def.Options {
			if o == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: %s must be one of %s", ErrInvalidSetting, def.Key, strings.Join(def.Options, ", "))
	}
	if len(s) > 5000 {
		return nil, fmt.Errorf("%w: %s is too long", ErrInvalidSetting, def.Key)
	}
	return s, nil
}
