package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pressli/pressli/bundle"
)

// Repository persists plugin records.
type Repository interface {
	ListPlugins(ctx context.Context) ([]Record, error)
	SavePlugin(ctx context.Context, r Record) error
	DeletePlugin(ctx context.Context, slug string) error
	SetPluginStatus(ctx context.Context, slug, status string) error
}

// Config holds the directories the manager works in.
type Config struct {
	PluginsDir string
	StagingDir string
	MaxArchive int64
}

// Report describes what a scan changed.
type Report struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`
}

// Changed reports whether the scan changed anything.
func (r Report) Changed() bool {
	return len(r.Added)+len(r.Removed)+len(r.Updated) > 0
}

// Manager coordinates the plugins directory, the repository and the
// extension registry.
type Manager struct {
	cfg      Config
	repo     Repository
	registry *Registry
	log      *zap.Logger
	locks    *bundle.Locker

	scanMu sync.Mutex

	mu     sync.RWMutex
	active []string
}

// NewManager creates a Manager. A nil registry or logger gets a default.
func NewManager(cfg Config, repo Repository, registry *Registry, log *zap.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, repo: repo, registry: registry, log: log, locks: bundle.NewLocker()}
}

// Dir returns the plugins directory.
func (m *Manager) Dir() string {
	return m.cfg.PluginsDir
}

// List returns the registered plugins ordered by name.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	recs, err := m.repo.ListPlugins(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}

func (m *Manager) find(ctx context.Context, slug string) (Record, error) {
	recs, err := m.repo.ListPlugins(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, r := range recs {
		if r.Slug == slug {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

// Sync diffs the plugins directory against the repository: new directories
// are registered inactive, vanished ones are removed, changed manifests are
// updated. Invalid manifests are logged and ignored.
func (m *Manager) Sync(ctx context.Context) (Report, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	found, err := m.scanDir()
	if err != nil {
		return Report{}, err
	}
	recs, err := m.repo.ListPlugins(ctx)
	if err != nil {
		return Report{}, err
	}
	known := make(map[string]Record, len(recs))
	for _, r := range recs {
		known[r.Slug] = r
	}

	var rep Report
	for slug, man := range found {
		r, ok := known[slug]
		switch {
		case !ok:
			r = Record{Status: StatusInactive}
			rep.Added = append(rep.Added, slug)
		case man.differs(r):
			rep.Updated = append(rep.Updated, slug)
		default:
			continue
		}
		r.Slug, r.Name, r.Version, r.Author, r.Description = slug, man.Name, man.Version, man.Author, man.Description
		if err := m.repo.SavePlugin(ctx, r); err != nil {
			return rep, fmt.Errorf("save plugin %s: %w", slug, err)
		}
	}
	for slug := range known {
		if _, ok := found[slug]; ok {
			continue
		}
		if err := m.repo.DeletePlugin(ctx, slug); err != nil {
			return rep, fmt.Errorf("remove plugin %s: %w", slug, err)
		}
		rep.Removed = append(rep.Removed, slug)
	}
	sort.Strings(rep.Added)
	sort.Strings(rep.Removed)
	sort.Strings(rep.Updated)

	if err := m.reloadActive(ctx); err != nil {
		return rep, err
	}
	if rep.Changed() {
		m.log.Info("plugins synced",
			zap.Strings("added", rep.Added),
			zap.Strings("removed", rep.Removed),
			zap.Strings("updated", rep.Updated))
	}
	return rep, nil
}

func (m *Manager) scanDir() (map[string]Manifest, error) {
	entries, err := os.ReadDir(m.cfg.PluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Manifest{}, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}
	found := make(map[string]Manifest, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		man, err := LoadManifest(filepath.Join(m.cfg.PluginsDir, e.Name()))
		if err != nil {
			m.log.Warn("skipping plugin", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		if man.Slug != e.Name() {
			m.log.Warn("plugin slug does not match directory", zap.String("dir", e.Name()), zap.String("slug", man.Slug))
			continue
		}
		found[man.Slug] = man
	}
	return found, nil
}

func (m *Manager) reloadActive(ctx context.Context) error {
	recs, err := m.repo.ListPlugins(ctx)
	if err != nil {
		return err
	}
	var active []string
	for _, r := range recs {
		if r.Active() {
			active = append(active, r.Slug)
		}
	}
	m.mu.Lock()
	m.active = active
	m.mu.Unlock()
	return nil
}

// Activate marks slug active and runs its extension's Activate hook.
func (m *Manager) Activate(ctx context.Context, slug string) (Record, error) {
	unlock := m.locks.Lock(slug)
	defer unlock()

	r, err := m.find(ctx, slug)
	if err != nil {
		return Record{}, err
	}
	if _, err := LoadManifest(filepath.Join(m.cfg.PluginsDir, slug)); err != nil {
		return Record{}, err
	}
	if r.Active() {
		return r, nil
	}
	if ext, ok := m.registry.Lookup(slug); ok {
		if a, ok := ext.(Activator); ok {
			if err := a.Activate(ctx); err != nil {
				return Record{}, fmt.Errorf("activate %s: %w", slug, err)
			}
		}
	}
	if err := m.repo.SetPluginStatus(ctx, slug, StatusActive); err != nil {
		return Record{}, err
	}
	r.Status = StatusActive
	return r, m.reloadActive(ctx)
}

// Deactivate marks slug inactive and runs its extension's Deactivate hook.
// A failing hook is logged; the plugin is still deactivated.
func (m *Manager) Deactivate(ctx context.Context, slug string) (Record, error) {
	unlock := m.locks.Lock(slug)
	defer unlock()

	r, err := m.find(ctx, slug)
	if err != nil {
		return Record{}, err
	}
	if !r.Active() {
		return r, nil
	}
	if ext, ok := m.registry.Lookup(slug); ok {
		if d, ok := ext.(Deactivator); ok {
			if err := d.Deactivate(ctx); err != nil {
				m.log.Warn("plugin deactivate hook failed", zap.String("slug", slug), zap.Error(err))
			}
		}
	}
	if err := m.repo.SetPluginStatus(ctx, slug, StatusInactive); err != nil {
		return Record{}, err
	}
	r.Status = StatusInactive
	return r, m.reloadActive(ctx)
}

// Delete removes an inactive plugin's directory and record.
func (m *Manager) Delete(ctx context.Context, slug string) error {
	unlock := m.locks.Lock(slug)
	defer unlock()

	r, err := m.find(ctx, slug)
	if err != nil {
		return err
	}
	if r.Active() {
		return ErrActive
	}
	if err := os.RemoveAll(filepath.Join(m.cfg.PluginsDir, slug)); err != nil {
		return fmt.Errorf("remove plugin dir: %w", err)
	}
	return m.repo.DeletePlugin(ctx, slug)
}

// Install unpacks a plugin ZIP into the plugins directory and registers it
// inactive.
func (m *Manager) Install(ctx context.Context, zipPath string) (Record, error) {
	st, err := bundle.Extract(zipPath, m.cfg.StagingDir, m.cfg.MaxArchive)
	if err != nil {
		return Record{}, err
	}
	defer func() {
		if err := st.Cleanup(); err != nil {
			m.log.Warn("staging cleanup failed", zap.String("dir", st.Dir), zap.Error(err))
		}
	}()
	src, err := st.FindManifest(ManifestFile)
	if err != nil {
		return Record{}, err
	}
	man, err := LoadManifest(src)
	if err != nil {
		return Record{}, err
	}

	unlock := m.locks.Lock(man.Slug)
	defer unlock()

	target := filepath.Join(m.cfg.PluginsDir, man.Slug)
	if _, err := os.Stat(target); err == nil {
		return Record{}, ErrExists
	}
	if _, err := m.find(ctx, man.Slug); err == nil {
		return Record{}, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}
	if err := bundle.CopyDir(src, target); err != nil {
		os.RemoveAll(target)
		return Record{}, fmt.Errorf("copy plugin: %w", err)
	}
	r := Record{
		Slug:        man.Slug,
		Name:        man.Name,
		Version:     man.Version,
		Author:      man.Author,
		Description: man.Description,
		Status:      StatusInactive,
	}
	if err := m.repo.SavePlugin(ctx, r); err != nil {
		return Record{}, err
	}
	m.log.Info("plugin installed", zap.String("slug", r.Slug), zap.String("version", r.Version))
	return r, nil
}

// ActiveSlugs returns the slugs of active plugins as of the last change.
func (m *Manager) ActiveSlugs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.active...)
}

// FilterContent passes html through the content filters of active plugins.
func (m *Manager) FilterContent(ctx context.Context, html string) string {
	for _, f := range m.registry.filters(m.ActiveSlugs()) {
		html = f.FilterContent(ctx, html)
	}
	return html
}
