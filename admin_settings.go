package pressli

import (
	"github.com/labstack/echo/v4"
)

type settingsData struct {
	Group  string
	Groups []string
	Values map[string]string
	Pages  []Post
}

// settingTabs orders the SettingGroups tabs.
var settingTabs = []string{"general", "reading", "media"}

func (a *App) handleSettings(c echo.Context) error {
	ctx := c.Request().Context()
	group := c.Param("group")
	keys, found := SettingGroups[group]
	if !found {
		return echo.ErrNotFound
	}
	d := settingsData{Group: group, Groups: settingTabs, Values: make(map[string]string, len(keys))}
	for _, k := range keys {
		v, err := a.Settings.Get(ctx, k)
		if err != nil {
			return err
		}
		d.Values[k] = v
	}
	if group == "reading" {
		var err error
		if d.Pages, _, err = a.Posts.List(ctx, PostQuery{Type: TypePage, Status: StatusPublished}); err != nil {
			return err
		}
	}
	return a.renderAdmin(c, "settings", "Settings", "settings", d)
}

func (a *App) handleSettingsSave(c echo.Context) error {
	group := c.Param("group")
	keys, found := SettingGroups[group]
	if !found {
		return echo.ErrNotFound
	}
	form := make(map[string]string, len(keys))
	for _, k := range keys {
		form[k] = c.FormValue(k)
	}
	back := "/admin/settings/" + group + "/"
	if err := a.Settings.SaveGroup(c.Request().Context(), group, form); err != nil {
		return a.fail(c, err, back)
	}
	return done(c, "Settings saved.", back)
}
