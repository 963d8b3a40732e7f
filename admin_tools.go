package pressli

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

type toolsData struct {
	Version       string
	Trashed       int
	RetentionDays int
	CacheBackend  string
}

func (a *App) handleTools(c echo.Context) error {
	ctx := c.Request().Context()
	d := toolsData{RetentionDays: a.Config.TrashRetentionDays, CacheBackend: "memory"}
	if _, isRedis := a.cache.(*RedisCache); isRedis {
		d.CacheBackend = "Redis"
	}
	var err error
	if d.Version, err = a.Settings.Get(ctx, "core_version"); err != nil {
		return err
	}
	for _, typ := range []string{TypePost, TypePage} {
		counts, err := a.Posts.Counts(ctx, typ)
		if err != nil {
			return err
		}
		d.Trashed += counts[StatusTrash]
	}
	return a.renderAdmin(c, "tools", "Tools", "tools", d)
}

func (a *App) handleExport(c echo.Context) error {
	name := fmt.Sprintf("pressli-export-%s.json", a.now().UTC().Format("2006-01-02"))
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return a.Tools.Export(c.Request().Context(), c.Response())
}

func (a *App) handleImport(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return a.fail(c, Invalid("Choose an export file to import"), "/admin/tools/")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	report, err := a.Tools.Import(c.Request().Context(), CurrentUser(c), f)
	if err != nil {
		return a.fail(c, err, "/admin/tools/")
	}
	return done(c, fmt.Sprintf("Imported %d terms, %d posts and pages, %d menus, %d settings groups. Skipped %d items.",
		report.Terms, report.Posts, report.Menus, report.Settings, report.Skipped), "/admin/tools/")
}

func (a *App) handleEmptyTrash(c echo.Context) error {
	n, err := a.Tools.EmptyTrash(c.Request().Context())
	if err != nil {
		return a.fail(c, err, "/admin/tools/")
	}
	return done(c, fmt.Sprintf("%d items permanently deleted.", n), "/admin/tools/")
}

func (a *App) handleClearCache(c echo.Context) error {
	a.Settings.Flush(c.Request().Context())
	a.Themes.Renderer().Reset()
	return done(c, "Cache cleared.", "/admin/tools/")
}

func (a *App) handleCoreUpdate(c echo.Context) error {
	path, cleanup, err := a.receiveArchive(c, "file")
	if err != nil {
		return a.fail(c, err, "/admin/tools/")
	}
	defer cleanup()
	up, err := a.Tools.ApplyUpdate(c.Request().Context(), path)
	a.metrics.pkg("core", err)
	if err != nil {
		return a.fail(c, err, "/admin/tools/")
	}
	msg := fmt.Sprintf("Updated to %s.", up.Version)
	if up.Notes != "" {
		msg += " " + up.Notes
	}
	return done(c, msg, "/admin/tools/")
}
