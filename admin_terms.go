package pressli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

func termPath(taxonomy string) string {
	if taxonomy == TaxonomyTag {
		return "tags"
	}
	return "categories"
}

func (a *App) termRoutes(g *echo.Group, taxonomy string) {
	g.GET("/", a.handleTermList(taxonomy))
	g.POST("/new/", a.handleTermCreate(taxonomy))
	g.GET("/edit/:id/", a.handleTermEdit(taxonomy))
	g.POST("/edit/:id/", a.handleTermUpdate(taxonomy))
	g.POST("/delete/:id/", a.handleTermDelete(taxonomy))
}

type termListData struct {
	Taxonomy  string
	Path      string
	Singular  string
	Items     []Term
	Search    string
	DefaultID int64
}

func (a *App) handleTermList(taxonomy string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		d := termListData{
			Taxonomy: taxonomy,
			Path:     termPath(taxonomy),
			Singular: strings.ToLower(taxonomyLabel(taxonomy)),
			Search:   strings.TrimSpace(c.QueryParam("q")),
		}
		var err error
		if d.Items, err = a.Terms.List(ctx, taxonomy, d.Search); err != nil {
			return err
		}
		if taxonomy == TaxonomyCategory {
			d.DefaultID, _ = a.defaultCategoryID(ctx)
		}
		title := "Categories"
		if taxonomy == TaxonomyTag {
			title = "Tags"
		}
		return a.renderAdmin(c, "terms", title, d.Path, d)
	}
}

func termInput(c echo.Context) TermInput {
	in := TermInput{
		Name:        c.FormValue("name"),
		Slug:        c.FormValue("slug"),
		Description: c.FormValue("description"),
	}
	in.ParentID, _ = strconv.ParseInt(c.FormValue("parent_id"), 10, 64)
	return in
}

func (a *App) handleTermCreate(taxonomy string) echo.HandlerFunc {
	return func(c echo.Context) error {
		back := "/admin/" + termPath(taxonomy) + "/"
		t, err := a.Terms.Create(c.Request().Context(), taxonomy, termInput(c))
		if err != nil {
			return a.fail(c, err, back)
		}
		return done(c, fmt.Sprintf("%s %q added.", taxonomyLabel(taxonomy), t.Name), back)
	}
}

type termFormData struct {
	Taxonomy string
	Path     string
	Term     Term
	Parents  []Term
}

func (a *App) handleTermEdit(taxonomy string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		d := termFormData{Taxonomy: taxonomy, Path: termPath(taxonomy)}
		var err error
		if d.Term, err = a.Terms.Get(ctx, taxonomy, idParam(c)); err != nil {
			return a.fail(c, err, "/admin/"+d.Path+"/")
		}
		if taxonomy == TaxonomyCategory {
			if d.Parents, err = a.Terms.List(ctx, taxonomy, ""); err != nil {
				return err
			}
		}
		return a.renderAdmin(c, "term_edit", "Edit "+taxonomyLabel(taxonomy), d.Path, d)
	}
}

func (a *App) handleTermUpdate(taxonomy string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := idParam(c)
		path := "/admin/" + termPath(taxonomy) + "/"
		if _, err := a.Terms.Update(c.Request().Context(), taxonomy, id, termInput(c)); err != nil {
			return a.fail(c, err, fmt.Sprintf("%sedit/%d/", path, id))
		}
		return done(c, taxonomyLabel(taxonomy)+" updated.", path)
	}
}

func (a *App) handleTermDelete(taxonomy string) echo.HandlerFunc {
	return func(c echo.Context) error {
		back := "/admin/" + termPath(taxonomy) + "/"
		if err := a.Terms.Delete(c.Request().Context(), taxonomy, idParam(c)); err != nil {
			return a.fail(c, err, back)
		}
		return done(c, taxonomyLabel(taxonomy)+" deleted.", back)
	}
}

type termSuggestion struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (a *App) handleTagSearch(c echo.Context) error {
	terms, err := a.Terms.Search(c.Request().Context(), TaxonomyTag, c.QueryParam("q"), 10)
	if err != nil {
		return a.failJSON(c, err)
	}
	out := make([]termSuggestion, 0, len(terms))
	for _, t := range terms {
		out = append(out, termSuggestion{ID: t.ID, Name: t.Name, Slug: t.Slug})
	}
	return ok(c, "", out)
}
