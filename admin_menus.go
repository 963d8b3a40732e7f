package pressli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

// menuLocations returns the locations the active theme declares.
func (a *App) menuLocations(ctx context.Context) (map[string]string, error) {
	t, err := a.Themes.Active(ctx)
	if err != nil {
		return nil, err
	}
	return t.Menus, nil
}

type menusData struct {
	Menus      []Menu
	Locations  map[string]string
	Selected   Menu
	Pages      []Post
	Posts      []Post
	Categories []Term
	MaxDepth   int
}

func (a *App) handleMenus(c echo.Context) error {
	ctx := c.Request().Context()
	d := menusData{MaxDepth: MaxMenuDepth}
	var err error
	if d.Menus, err = a.Menus.List(ctx); err != nil {
		return err
	}
	if d.Locations, err = a.menuLocations(ctx); err != nil {
		return err
	}
	selected, _ := strconv.ParseInt(c.QueryParam("menu"), 10, 64)
	for _, m := range d.Menus {
		if m.ID == selected || (selected == 0 && d.Selected.ID == 0) {
			d.Selected = m
		}
	}
	if d.Selected.ID != 0 {
		if d.Pages, _, err = a.Posts.List(ctx, PostQuery{Type: TypePage, Status: StatusPublished}); err != nil {
			return err
		}
		if d.Posts, _, err = a.Posts.List(ctx, PostQuery{Type: TypePost, Status: StatusPublished, Limit: 50}); err != nil {
			return err
		}
		if d.Categories, err = a.Terms.List(ctx, TaxonomyCategory, ""); err != nil {
			return err
		}
	}
	return a.renderAdmin(c, "menus", "Menus", "menus", d)
}

func menuInput(c echo.Context) MenuInput {
	return MenuInput{Name: c.FormValue("name"), Slug: c.FormValue("slug"), Location: c.FormValue("location")}
}

func menuURL(id int64) string {
	return fmt.Sprintf("/admin/menus/?menu=%d", id)
}

func (a *App) handleMenuCreate(c echo.Context) error {
	ctx := c.Request().Context()
	locations, err := a.menuLocations(ctx)
	if err != nil {
		return err
	}
	m, err := a.Menus.Create(ctx, menuInput(c), locations)
	if err != nil {
		return a.fail(c, err, "/admin/menus/")
	}
	return done(c, "Menu created.", menuURL(m.ID))
}

func (a *App) handleMenuUpdate(c echo.Context) error {
	ctx := c.Request().Context()
	id := idParam(c)
	locations, err := a.menuLocations(ctx)
	if err != nil {
		return err
	}
	if _, err := a.Menus.Update(ctx, id, menuInput(c), locations); err != nil {
		return a.fail(c, err, menuURL(id))
	}
	return done(c, "Menu saved.", menuURL(id))
}

func (a *App) handleMenuDelete(c echo.Context) error {
	if err := a.Menus.Delete(c.Request().Context(), idParam(c)); err != nil {
		return a.fail(c, err, "/admin/menus/")
	}
	return done(c, "Menu deleted.", "/admin/menus/")
}

func (a *App) handleMenuItems(c echo.Context) error {
	items, err := a.Menus.Items(c.Request().Context(), idParam(c))
	if err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, "", items)
}

type menuItemsRequest struct {
	Items []*MenuItem `json:"items"`
}

func (a *App) handleMenuItemsSave(c echo.Context) error {
	var req menuItemsRequest
	if err := c.Bind(&req); err != nil {
		return a.failJSON(c, Invalid("The menu structure could not be read"))
	}
	items, err := a.Menus.SaveItems(c.Request().Context(), idParam(c), req.Items)
	if err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, "Menu structure saved.", items)
}
