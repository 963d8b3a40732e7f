package pressli

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pressli/pressli/plugin"
	"github.com/pressli/pressli/theme"
)

// receiveArchive copies the uploaded ZIP in field to a temp file under the
// staging dir. The caller must call the returned cleanup.
func (a *App) receiveArchive(c echo.Context, field string) (string, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", nil, Invalid("Choose a .zip file to upload")
	}
	if fh.Size > a.Config.MaxPackageSize {
		return "", nil, Invalid("The package is larger than the upload limit")
	}
	src, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()
	if err := os.MkdirAll(a.Config.StagingDir(), 0o755); err != nil {
		return "", nil, err
	}
	dst, err := os.CreateTemp(a.Config.StagingDir(), "upload-*.zip")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if err := os.Remove(dst.Name()); err != nil && !os.IsNotExist(err) {
			a.log.Warn("remove uploaded archive", zap.String("path", dst.Name()), zap.Error(err))
		}
	}
	if _, err := io.Copy(dst, io.LimitReader(src, a.Config.MaxPackageSize+1)); err != nil {
		dst.Close()
		cleanup()
		return "", nil, err
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return dst.Name(), cleanup, nil
}

type themesData struct {
	Themes []theme.Theme
}

func (a *App) handleThemes(c echo.Context) error {
	themes, err := a.Themes.List(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderAdmin(c, "themes", "Themes", "themes", themesData{Themes: themes})
}

func (a *App) handleThemeActivate(c echo.Context) error {
	if !validQueryToken(c) {
		return a.fail(c, Forbidden("The activation link expired. Try again."), "/admin/themes/")
	}
	t, err := a.Themes.Activate(c.Request().Context(), c.Param("name"))
	if err != nil {
		return a.fail(c, err, "/admin/themes/")
	}
	return done(c, fmt.Sprintf("%s activated.", t.Name), "/admin/themes/")
}

func (a *App) handleThemeUpload(c echo.Context) error {
	ctx := c.Request().Context()
	path, cleanup, err := a.receiveArchive(c, "file")
	if err != nil {
		return a.fail(c, err, "/admin/themes/")
	}
	defer cleanup()
	var t theme.Theme
	verb := "installed"
	if c.FormValue("update") != "" {
		verb = "updated"
		t, err = a.Themes.Update(ctx, path)
	} else {
		t, err = a.Themes.Install(ctx, path)
	}
	a.metrics.pkg("theme", err)
	if err != nil {
		a.log.Info("theme upload rejected", zap.Error(err))
		return a.fail(c, err, "/admin/themes/")
	}
	return done(c, fmt.Sprintf("%s %s %s.", t.Name, t.Version, verb), "/admin/themes/")
}

func (a *App) handleThemeDelete(c echo.Context) error {
	if err := a.Themes.Delete(c.Request().Context(), c.Param("name")); err != nil {
		return a.fail(c, err, "/admin/themes/")
	}
	return done(c, "Theme deleted.", "/admin/themes/")
}

type customizeData struct {
	Theme theme.Theme
}

func (a *App) handleCustomize(c echo.Context) error {
	t, err := a.Themes.Active(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderAdmin(c, "customize", "Customize", "themes", customizeData{Theme: t})
}

type customizerJSON struct {
	Theme    string             `json:"theme"`
	Settings []theme.SettingDef `json:"settings"`
	Values   map[string]any     `json:"values"`
}

func (a *App) handleCustomizeSettings(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := a.Themes.Active(ctx)
	if err != nil {
		return a.failJSON(c, err)
	}
	mods, err := a.Themes.Mods(ctx, t.Root)
	if err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, "", customizerJSON{Theme: t.Root, Settings: t.Settings, Values: mods})
}

func (a *App) handleCustomizeSave(c echo.Context) error {
	ctx := c.Request().Context()
	var values map[string]any
	if err := c.Bind(&values); err != nil {
		return a.failJSON(c, Invalid("The customizer values could not be read"))
	}
	t, err := a.Themes.Active(ctx)
	if err != nil {
		return a.failJSON(c, err)
	}
	mods, err := a.Themes.SaveMods(ctx, t.Root, values)
	if err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, "Customizations published.", mods)
}

type pluginsData struct {
	Plugins []plugin.Record
}

func (a *App) handlePlugins(c echo.Context) error {
	plugins, err := a.Plugins.List(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderAdmin(c, "plugins", "Plugins", "plugins", pluginsData{Plugins: plugins})
}

func (a *App) handlePluginActivate(c echo.Context) error {
	r, err := a.Plugins.Activate(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, r.Name+" activated.", map[string]string{"slug": r.Slug, "status": r.Status})
}

func (a *App) handlePluginDeactivate(c echo.Context) error {
	r, err := a.Plugins.Deactivate(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, r.Name+" deactivated.", map[string]string{"slug": r.Slug, "status": r.Status})
}

func (a *App) handlePluginDelete(c echo.Context) error {
	if err := a.Plugins.Delete(c.Request().Context(), c.Param("slug")); err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, "Plugin deleted.", nil)
}

func (a *App) handlePluginUpload(c echo.Context) error {
	path, cleanup, err := a.receiveArchive(c, "file")
	if err != nil {
		return a.failJSON(c, err)
	}
	defer cleanup()
	r, err := a.Plugins.Install(c.Request().Context(), path)
	a.metrics.pkg("plugin", err)
	if err != nil {
		return a.failJSON(c, err)
	}
	return c.JSON(http.StatusCreated, envelope{Success: true, Message: fmt.Sprintf("%s %s installed. Activate it to use it.", r.Name, r.Version)})
}

func (a *App) handlePluginScan(c echo.Context) error {
	report, err := a.Plugins.Sync(c.Request().Context())
	if err != nil {
		return a.failJSON(c, err)
	}
	msg := "No changes found."
	if report.Changed() {
		msg = fmt.Sprintf("%d added, %d removed, %d updated.", len(report.Added), len(report.Removed), len(report.Updated))
	}
	return ok(c, msg, report)
}
