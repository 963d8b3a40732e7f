package pressli

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/pressli/pressli/plugin"
)

// Config holds process-level configuration. Site settings such as the title
// or the active theme live in the settings table instead.
type Config struct {
	Addr         string `env:"PRESSLI_ADDR" envDefault:":3000"`
	SiteURL      string `env:"PRESSLI_SITE_URL" envDefault:"http://localhost:3000"`
	DatabasePath string `env:"PRESSLI_DATABASE_PATH" envDefault:"data/pressli.db"`
	ContentDir   string `env:"PRESSLI_CONTENT_DIR" envDefault:"."` // holds themes/ and plugins/
	PublicDir    string `env:"PRESSLI_PUBLIC_DIR" envDefault:"public"`
	DataDir      string `env:"PRESSLI_DATA_DIR" envDefault:"data"`

	SessionSecret string `env:"PRESSLI_SESSION_SECRET"`
	CookieSecure  bool   `env:"PRESSLI_COOKIE_SECURE" envDefault:"false"`

	RedisURL string        `env:"PRESSLI_REDIS_URL"`
	CacheTTL time.Duration `env:"PRESSLI_CACHE_TTL" envDefault:"5m"`

	MaxUploadSize      int64 `env:"PRESSLI_MAX_UPLOAD_SIZE" envDefault:"10485760"`
	MaxPackageSize     int64 `env:"PRESSLI_MAX_PACKAGE_SIZE" envDefault:"52428800"`
	TrashRetentionDays int   `env:"PRESSLI_TRASH_RETENTION_DAYS" envDefault:"30"`
	PluginWatch        bool  `env:"PRESSLI_PLUGIN_WATCH" envDefault:"true"`

	Analytics              bool `env:"PRESSLI_ANALYTICS" envDefault:"true"`
	AnalyticsRetentionDays int  `env:"PRESSLI_ANALYTICS_RETENTION_DAYS" envDefault:"180"`

	LoginAttempts int           `env:"PRESSLI_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginWindow   time.Duration `env:"PRESSLI_LOGIN_WINDOW" envDefault:"1m"`
	PasswordCost  int           `env:"PRESSLI_PASSWORD_COST" envDefault:"10"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// setDefaults fills zero values for configs built in code rather than
// parsed from the environment.
func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.SiteURL == "" {
		c.SiteURL = "http://localhost:3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/pressli.db"
	}
	if c.ContentDir == "" {
		c.ContentDir = "."
	}
	if c.PublicDir == "" {
		c.PublicDir = "public"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 10 << 20
	}
	if c.MaxPackageSize == 0 {
		c.MaxPackageSize = 50 << 20
	}
	if c.LoginAttempts == 0 {
		c.LoginAttempts = 5
	}
	if c.LoginWindow == 0 {
		c.LoginWindow = time.Minute
	}
	if c.PasswordCost == 0 {
		c.PasswordCost = 10
	}
}

// Validate checks required values.
func (c Config) Validate() error {
	var errs []error
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("PRESSLI_SESSION_SECRET is required"))
	} else if len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("PRESSLI_SESSION_SECRET must be at least 16 characters"))
	}
	if c.AnalyticsRetentionDays < 0 {
		errs = append(errs, errors.New("PRESSLI_ANALYTICS_RETENTION_DAYS must not be negative"))
	}
	if c.TrashRetentionDays < 0 {
		errs = append(errs, errors.New("PRESSLI_TRASH_RETENTION_DAYS must not be negative"))
	}
	if c.PasswordCost < 4 || c.PasswordCost > 31 {
		errs = append(errs, errors.New("PRESSLI_PASSWORD_COST must be between 4 and 31"))
	}
	return errors.Join(errs...)
}

// ThemesDir is where installed themes live.
func (c Config) ThemesDir() string { return filepath.Join(c.ContentDir, "themes") }

// PluginsDir is where installed plugins live.
func (c Config) PluginsDir() string { return filepath.Join(c.ContentDir, "plugins") }

// UploadsDir is where media files are written.
func (c Config) UploadsDir() string { return filepath.Join(c.PublicDir, "uploads") }

// ThemeAssetsDir holds the public assets of installed themes.
func (c Config) ThemeAssetsDir() string { return filepath.Join(c.PublicDir, "themes") }

// BackupDir holds theme and core backups.
func (c Config) BackupDir() string { return filepath.Join(c.DataDir, "backups") }

// AnalyticsPath is the page view database.
func (c Config) AnalyticsPath() string { return filepath.Join(c.DataDir, "analytics.db") }

// StagingDir holds extracted archives while they are installed.
func (c Config) StagingDir() string { return filepath.Join(c.DataDir, "staging") }

// Option configures additional App behavior.
type Option func(*App)

// WithLogger sets the logger used by the app and its services.
func WithLogger(log *zap.Logger) Option {
	return func(a *App) {
		a.log = log
	}
}

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithExtensions registers compiled-in plugin extensions. An extension runs
// only while the plugin directory with the same slug is installed and active.
func WithExtensions(exts ...plugin.Extension) Option {
	return func(a *App) {
		a.extensions = append(a.extensions, exts...)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}
