// Package plugin keeps the plugin registry in sync with the plugins
// directory and runs compiled-in extensions for active plugins.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ManifestFile is the manifest expected at a plugin root.
const ManifestFile = "plugin.json"

// Plugin statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	ErrInvalidManifest = errors.New("plugin: invalid manifest")
	ErrExists          = errors.New("plugin: already installed")
	ErrNotFound        = errors.New("plugin: not installed")
	ErrActive          = errors.New("plugin: plugin is active")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Manifest is the decoded plugin.json.
type Manifest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// Record is a registered plugin row.
type Record struct {
	Slug        string
	Name        string
	Version     string
	Author      string
	Description string
	Status      string
	InstalledAt time.Time
	UpdatedAt   time.Time
}

// Active reports whether the plugin is active.
func (r Record) Active() bool {
	return r.Status == StatusActive
}

// LoadManifest reads and validates dir/plugin.json.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	if m.Name == "" || m.Version == "" {
		return Manifest{}, fmt.Errorf("%w: name and version are required", ErrInvalidManifest)
	}
	if !slugPattern.MatchString(m.Slug) {
		return Manifest{}, fmt.Errorf("%w: slug %q", ErrInvalidManifest, m.Slug)
	}
	return m, nil
}

func (m Manifest) differs(r Record) bool {
	return m.Name != r.Name || m.Version != r.Version || m.Author != r.Author || m.Description != r.Description
}
