// Package pressli is a WordPress-style content management system built with
// Go, Echo and SQLite. It serves an admin panel for posts, pages, taxonomy,
// media, menus, users, themes, plugins and settings, and renders the public
// site through the active theme.
package pressli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pressli/pressli/analytics"
	"github.com/pressli/pressli/plugin"
	"github.com/pressli/pressli/theme"
	"github.com/pressli/pressli/views"
)

// Version is the core version written to the settings table on first run.
const Version = "1.0.0"

// App is the central Pressli application. It wires together the store, the
// services, the theme and plugin managers, and the HTTP handlers.
type App struct {
	Config   Config
	Echo     *echo.Echo
	Store    *Store
	Settings *Settings
	Posts    *Posts
	Terms    *Terms
	Media    *MediaLibrary
	Menus    *Menus
	Users    *Users
	Tools    *Tools
	Themes   *theme.Manager
	Plugins  *plugin.Manager

	// Analytics is nil when page view recording is disabled.
	Analytics *analytics.Store

	log          *zap.Logger
	now          func() time.Time
	cache        SettingsCache
	loginLimiter *LoginLimiter
	metrics      *metrics
	recorder     *analytics.Recorder
	customRoutes []func(*App)
	extensions   []plugin.Extension
}

// New creates an App with the given configuration. Call Init (or Start) to
// open the database and register routes.
func New(cfg Config, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true
	return a
}

// Init validates the configuration, opens the store, builds the services and
// registers middleware and routes. Call it once.
func (a *App) Init(ctx context.Context) error {
	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("pressli: %w", err)
	}

	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("pressli: init store: %w", err)
	}
	store.now = a.now
	a.Store = store

	if a.Config.RedisURL != "" {
		rc, err := NewRedisCache(ctx, a.Config.RedisURL, a.Config.CacheTTL)
		if err != nil {
			return fmt.Errorf("pressli: init redis cache: %w", err)
		}
		a.cache = rc
	} else {
		a.cache = NewMemoryCache(a.Config.CacheTTL)
	}

	a.metrics = newMetrics()
	a.Settings = NewSettings(store, a.cache, a.log)
	a.Posts = NewPosts(store, a.Settings, a.log, a.now)
	a.Terms = NewTerms(store, a.Settings, a.log)
	a.Media = NewMediaLibrary(store, a.Settings, a.Config.UploadsDir(), a.Config.MaxUploadSize, a.log, a.now)
	a.Menus = NewMenus(store, a.log, a.now)
	a.Users = NewUsers(store, a.Config.PasswordCost, a.log)
	a.Tools = NewTools(store, a.Settings, a.Posts, ToolsConfig{
		PublicDir:  a.Config.PublicDir,
		BackupDir:  a.Config.BackupDir(),
		StagingDir: a.Config.StagingDir(),
		MaxArchive: a.Config.MaxPackageSize,
	}, a.log, a.now)

	a.Themes = theme.NewManager(theme.Config{
		ThemesDir:  a.Config.ThemesDir(),
		AssetsDir:  a.Config.ThemeAssetsDir(),
		BackupDir:  filepath.Join(a.Config.BackupDir(), "themes"),
		StagingDir: a.Config.StagingDir(),
		MaxArchive: a.Config.MaxPackageSize,
	}, a.Settings, a.log.Named("theme"))
	a.Themes.SetClock(a.now)

	a.Plugins = plugin.NewManager(plugin.Config{
		PluginsDir: a.Config.PluginsDir(),
		StagingDir: a.Config.StagingDir(),
		MaxArchive: a.Config.MaxPackageSize,
	}, store, plugin.NewRegistry(a.extensions...), a.log.Named("plugin"))
	if _, err := a.Plugins.Sync(ctx); err != nil {
		return fmt.Errorf("pressli: scan plugins: %w", err)
	}

	if a.Config.Analytics {
		if err := a.initAnalytics(ctx); err != nil {
			return fmt.Errorf("pressli: init analytics: %w", err)
		}
	}

	a.loginLimiter = NewLoginLimiter(a.Config.LoginAttempts, a.Config.LoginWindow)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

// Start serves HTTP until ctx is cancelled, then shuts the server down
// gracefully.
func (a *App) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", a.Config.Addr))
		errc <- a.Echo.Start(a.Config.Addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("pressli: shutdown: %w", err)
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.StaticFS("/public/admin", views.Assets)
	e.Static("/public", a.Config.PublicDir)
	e.GET("/robots.txt", a.handleRobots)
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)

	// Admin
	e.GET("/admin/login/", a.handleLoginForm)
	e.POST("/admin/login/", a.handleLogin)
	e.POST("/admin/logout/", a.handleLogout)

	admin := e.Group("/admin", a.requireLogin)
	admin.GET("/", a.handleDashboard)
	admin.GET("/profile/", a.handleProfile)
	admin.POST("/profile/", a.handleProfileSave)

	edit := admin.Group("", a.requireCap(CapEditPosts))
	for _, typ := range []string{TypePost, TypePage} {
		a.contentRoutes(edit.Group("/"+typ+"s"), typ)
	}
	for _, tax := range []string{TaxonomyCategory, TaxonomyTag} {
		a.termRoutes(edit.Group("/"+termPath(tax)), tax)
	}
	edit.GET("/tags/search/", a.handleTagSearch)

	media := admin.Group("/media", a.requireCap(CapUploadFiles))
	media.GET("/", a.handleMediaLibrary)
	media.GET("/list/", a.handleMediaList)
	media.POST("/upload/", a.handleMediaUpload)
	media.POST("/update/:id/", a.handleMediaUpdate)
	media.POST("/delete/:id/", a.handleMediaDelete)

	opts := admin.Group("", a.requireCap(CapManageOptions))
	opts.GET("/menus/", a.handleMenus)
	opts.POST("/menus/new/", a.handleMenuCreate)
	opts.POST("/menus/update/:id/", a.handleMenuUpdate)
	opts.POST("/menus/delete/:id/", a.handleMenuDelete)
	opts.GET("/menus/:id/items/", a.handleMenuItems)
	opts.POST("/menus/:id/items/", a.handleMenuItemsSave)

	opts.GET("/users/", a.handleUsers)
	opts.GET("/users/new/", a.handleUserNew)
	opts.POST("/users/new/", a.handleUserCreate)
	opts.GET("/users/edit/:id/", a.handleUserEdit)
	opts.POST("/users/edit/:id/", a.handleUserUpdate)
	opts.POST("/users/delete/:id/", a.handleUserDelete)

	opts.GET("/settings/:group/", a.handleSettings)
	opts.POST("/settings/:group/", a.handleSettingsSave)

	opts.GET("/themes/", a.handleThemes)
	opts.GET("/themes/activate/:name/", a.handleThemeActivate)
	opts.POST("/themes/upload/", a.handleThemeUpload)
	opts.POST("/themes/delete/:name/", a.handleThemeDelete)
	opts.GET("/themes/customize/", a.handleCustomize)
	opts.GET("/themes/customize/settings/", a.handleCustomizeSettings)
	opts.POST("/themes/customize/settings/", a.handleCustomizeSave)

	opts.GET("/plugins/", a.handlePlugins)
	opts.POST("/plugins/activate/:slug/", a.handlePluginActivate)
	opts.POST("/plugins/deactivate/:slug/", a.handlePluginDeactivate)
	opts.POST("/plugins/delete/:slug/", a.handlePluginDelete)
	opts.POST("/plugins/upload/", a.handlePluginUpload)
	opts.POST("/plugins/scan/", a.handlePluginScan)

	opts.GET("/tools/", a.handleTools)
	opts.GET("/tools/export/", a.handleExport)
	opts.POST("/tools/import/", a.handleImport)
	opts.POST("/tools/empty-trash/", a.handleEmptyTrash)
	opts.POST("/tools/clear-cache/", a.handleClearCache)
	opts.POST("/tools/update/", a.handleCoreUpdate)

	opts.GET("/metrics/", a.metrics.handler())

	opts.GET("/stats/", a.handleStats)

	// Public
	var track []echo.MiddlewareFunc
	if a.recorder != nil {
		track = append(track, a.recorder.Middleware(nil))
	}
	e.GET("/", a.handleHome, track...)
	e.GET("/category/:slug/", a.handleTermArchive(TaxonomyCategory), track...)
	e.GET("/tag/:slug/", a.handleTermArchive(TaxonomyTag), track...)
	e.GET("/:slug/", a.handleEntry, track...)
}

func (a *App) initAnalytics(ctx context.Context) error {
	st, err := analytics.NewStore(a.Config.AnalyticsPath())
	if err != nil {
		return err
	}
	host := ""
	if u, err := url.Parse(a.Config.SiteURL); err == nil {
		host = u.Hostname()
	}
	rec, err := analytics.NewRecorder(ctx, st, host, a.log.Named("analytics"))
	if err != nil {
		st.Close()
		return err
	}
	rec.SetClock(a.now)
	a.Analytics, a.recorder = st, rec
	return nil
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	var errs []error
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.Analytics != nil {
		errs = append(errs, a.Analytics.Close())
	}
	if rc, ok := a.cache.(*RedisCache); ok {
		errs = append(errs, rc.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// Logger returns the app logger.
func (a *App) Logger() *zap.Logger {
	return a.log
}
