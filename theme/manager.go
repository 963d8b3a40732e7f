package theme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pressli/pressli/bundle"
)

// Setting keys owned by the theme manager.
const (
	ActiveSetting = "active_theme"
	modsPrefix    = "theme_mods_"
)

// Settings is the key/value store the manager persists activation and
// customizer values in. Get returns "" for a missing key.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Config holds the directories the manager works in.
type Config struct {
	ThemesDir  string // themes/{Root}
	AssetsDir  string // public/themes/{slug}
	BackupDir  string
	StagingDir string
	MaxArchive int64
}

// Theme is an installed (or built-in) theme.
type Theme struct {
	Manifest
	Dir     string
	Active  bool
	Builtin bool
}

// ScreenshotURL returns the public URL of the screenshot, or "".
func (t Theme) ScreenshotURL() string {
	if t.Screenshot == "" || t.Builtin {
		return ""
	}
	return "/public/themes/" + t.Slug() + "/" + filepath.ToSlash(t.Screenshot)
}

// Manager is the theme registry.
type Manager struct {
	cfg      Config
	settings Settings
	log      *zap.Logger
	locks    *bundle.Locker
	now      func() time.Time
	renderer *Renderer

	replaceDir func(src, dst string) error // installs package files
}

// NewManager creates a Manager. A nil logger is replaced by a no-op logger.
func NewManager(cfg Config, settings Settings, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		settings: settings,
		log:      log,
		locks:    bundle.NewLocker(),
		now:      time.Now,

		replaceDir: bundle.ReplaceDir,
	}
	m.renderer = newRenderer(m)
	return m
}

// SetClock overrides the clock used for backup names.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Renderer returns the public-site renderer bound to this manager.
func (m *Manager) Renderer() *Renderer {
	return m.renderer
}

// List returns the built-in theme followed by every valid installed theme,
// sorted by name. Directories with a broken manifest are skipped.
func (m *Manager) List(ctx context.Context) ([]Theme, error) {
	active, err := m.activeRoot(ctx)
	if err != nil {
		return nil, err
	}
	def := builtinTheme()
	def.Active = active == def.Root
	themes := []Theme{def}

	entries, err := os.ReadDir(m.cfg.ThemesDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read themes dir: %w", err)
	}
	var installed []Theme
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := m.load(e.Name())
		if err != nil {
			m.log.Warn("skipping theme", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		t.Active = t.Root == active
		installed = append(installed, t)
	}
	sort.Slice(installed, func(i, j int) bool { return installed[i].Name < installed[j].Name })
	return append(themes, installed...), nil
}

// Get returns an installed theme or the built-in one.
func (m *Manager) Get(root string) (Theme, error) {
	if root == BuiltinRoot {
		return builtinTheme(), nil
	}
	if !rootPattern.MatchString(root) {
		return Theme{}, ErrNotFound
	}
	return m.load(root)
}

func (m *Manager) load(root string) (Theme, error) {
	dir := filepath.Join(m.cfg.ThemesDir, root)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return Theme{}, ErrNotFound
		}
		return Theme{}, err
	}
	man, err := LoadManifest(dir)
	if err != nil {
		return Theme{}, err
	}
	if man.Root != root {
		return Theme{}, fmt.Errorf("%w: root %q does not match directory %q", ErrInvalidManifest, man.Root, root)
	}
	return Theme{Manifest: man, Dir: dir}, nil
}

func (m *Manager) activeRoot(ctx context.Context) (string, error) {
	root, err := m.settings.Get(ctx, ActiveSetting)
	if err != nil {
		return "", err
	}
	if root == "" {
		return BuiltinRoot, nil
	}
	return root, nil
}

// Active returns the active theme. A missing or broken active theme falls
// back to the built-in theme.
func (m *Manager) Active(ctx context.Context) (Theme, error) {
	root, err := m.activeRoot(ctx)
	if err != nil {
		return Theme{}, err
	}
	t, err := m.Get(root)
	if err != nil {
		m.log.Warn("active theme unavailable, using built-in", zap.String("root", root), zap.Error(err))
		t = builtinTheme()
	}
	t.Active = true
	return t, nil
}

// Activate makes root the active theme.
func (m *Manager) Activate(ctx context.Context, root string) (Theme, error) {
	t, err := m.Get(root)
	if err != nil {
		return Theme{}, err
	}
	if !t.Builtin {
		if err := m.publishAssets(t); err != nil {
			return Theme{}, err
		}
	}
	if err := m.settings.Set(ctx, ActiveSetting, t.Root); err != nil {
		return Theme{}, err
	}
	m.renderer.Reset()
	t.Active = true
	return t, nil
}

// Delete removes an inactive installed theme and its public assets.
func (m *Manager) Delete(ctx context.Context, root string) error {
	if root == BuiltinRoot {
		return fmt.Errorf("%w: the built-in theme cannot be deleted", ErrActive)
	}
	unlock := m.locks.Lock(root)
	defer unlock()

	t, err := m.Get(root)
	if err != nil {
		return err
	}
	active, err := m.activeRoot(ctx)
	if err != nil {
		return err
	}
	if active == t.Root {
		return ErrActive
	}
	if err := os.RemoveAll(t.Dir); err != nil {
		return fmt.Errorf("remove theme: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(m.cfg.AssetsDir, t.Slug())); err != nil {
		return fmt.Errorf("remove theme assets: %w", err)
	}
	m.renderer.Reset()
	return nil
}

// Install installs a theme package that is not yet present.
func (m *Manager) Install(ctx context.Context, zipPath string) (Theme, error) {
	return m.installArchive(ctx, zipPath, false)
}

// Update replaces an installed theme with a package of a different version,
// backing up the current files first.
func (m *Manager) Update(ctx context.Context, zipPath string) (Theme, error) {
	return m.installArchive(ctx, zipPath, true)
}

func (m *Manager) installArchive(ctx context.Context, zipPath string, update bool) (Theme, error) {
	st, err := bundle.Extract(zipPath, m.cfg.StagingDir, m.cfg.MaxArchive)
	if err != nil {
		return Theme{}, err
	}
	defer func() {
		if err := st.Cleanup(); err != nil {
			m.log.Warn("staging cleanup failed", zap.String("dir", st.Dir), zap.Error(err))
		}
	}()

	src, err := st.FindManifest(ManifestFile)
	if err != nil {
		return Theme{}, err
	}
	man, err := LoadManifest(src)
	if err != nil {
		return Theme{}, err
	}
	if man.Root == BuiltinRoot {
		return Theme{}, fmt.Errorf("%w: %s is reserved", ErrExists, BuiltinRoot)
	}

	unlock := m.locks.Lock(man.Root)
	defer unlock()

	target := filepath.Join(m.cfg.ThemesDir, man.Root)
	current, err := m.load(man.Root)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		// a broken install can still be updated
		exists = true
	}

	switch {
	case !update && exists:
		return Theme{}, ErrExists
	case update && !exists:
		return Theme{}, ErrNotFound
	case update && current.Version == man.Version:
		return Theme{}, ErrSameVersion
	}

	assetsTarget := filepath.Join(m.cfg.AssetsDir, man.Slug())
	var themeBackup, assetsBackup string
	if update {
		now := m.now()
		if themeBackup, err = bundle.Backup(target, m.cfg.BackupDir, man.Root, now); err != nil {
			return Theme{}, err
		}
		if assetsBackup, err = bundle.Backup(assetsTarget, m.cfg.BackupDir, man.Root+"-assets", now); err != nil {
			return Theme{}, err
		}
	}

	if err := m.place(src, target, assetsTarget); err != nil {
		if update {
			m.restore(themeBackup, target)
			m.restore(assetsBackup, assetsTarget)
		} else {
			os.RemoveAll(target)
			os.RemoveAll(assetsTarget)
		}
		return Theme{}, err
	}
	m.renderer.Reset()
	m.log.Info("theme installed", zap.String("root", man.Root), zap.String("version", man.Version), zap.Bool("update", update))
	return Theme{Manifest: man, Dir: target}, nil
}

func (m *Manager) place(src, target, assetsTarget string) error {
	if err := m.replaceDir(src, target); err != nil {
		return fmt.Errorf("copy theme: %w", err)
	}
	assets := filepath.Join(src, "assets")
	if info, err := os.Stat(assets); err == nil && info.IsDir() {
		if err := m.replaceDir(assets, assetsTarget); err != nil {
			return fmt.Errorf("copy theme assets: %w", err)
		}
	}
	return nil
}

// publishAssets copies the theme's assets/ directory to the public assets
// dir. Themes copied into the themes dir by hand have not been published.
func (m *Manager) publishAssets(t Theme) error {
	assets := filepath.Join(t.Dir, "assets")
	if info, err := os.Stat(assets); err != nil || !info.IsDir() {
		return nil
	}
	if err := bundle.ReplaceDir(assets, filepath.Join(m.cfg.AssetsDir, t.Slug())); err != nil {
		return fmt.Errorf("publish theme assets: %w", err)
	}
	return nil
}

// restore puts a backup back in place. An empty backup means target did not
// exist before, so whatever was copied there is removed.
func (m *Manager) restore(backup, target string) {
	if backup == "" {
		if err := os.RemoveAll(target); err != nil {
			m.log.Error("remove partial copy failed", zap.String("dir", target), zap.Error(err))
		}
		return
	}
	if err := bundle.ReplaceDir(backup, target); err != nil {
		m.log.Error("restore from backup failed", zap.String("backup", backup), zap.Error(err))
	}
}

// Mods returns the customizer values for root: declared defaults overlaid
// with the stored values.
func (m *Manager) Mods(ctx context.Context, root string) (map[string]any, error) {
	t, err := m.Get(root)
	if err != nil {
		return nil, err
	}
	mods := t.Defaults()
	raw, err := m.settings.Get(ctx, modsPrefix+t.Root)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return mods, nil
	}
	var stored map[string]any
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		m.log.Warn("discarding unreadable theme mods", zap.String("root", root), zap.Error(err))
		return mods, nil
	}
	for k, v := range stored {
		if _, ok := mods[k]; ok {
			mods[k] = v
		}
	}
	return mods, nil
}

// SaveMods validates values against the theme's declared settings and stores
// them merged over the current values.
func (m *Manager) SaveMods(ctx context.Context, root string, values map[string]any) (map[string]any, error) {
	t, err := m.Get(root)
	if err != nil {
		return nil, err
	}
	clean, err := t.CleanMods(values)
	if err != nil {
		return nil, err
	}
	mods, err := m.Mods(ctx, root)
	if err != nil {
		return nil, err
	}
	for k, v := range clean {
		mods[k] = v
	}
	data, err := json.Marshal(mods)
	if err != nil {
		return nil, err
	}
	if err := m.settings.Set(ctx, modsPrefix+t.Root, string(data)); err != nil {
		return nil, err
	}
	return mods, nil
}
