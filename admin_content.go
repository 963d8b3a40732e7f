package pressli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const adminPerPage = 20

var listStatuses = []string{StatusPublished, StatusDraft, StatusScheduled, StatusTrash}

func (a *App) contentRoutes(g *echo.Group, typ string) {
	if typ == TypePage {
		g.Use(a.requireCap(CapEditOthers))
	}
	g.GET("/", a.handleContentList(typ))
	g.GET("/new/", a.handleContentNew(typ))
	g.POST("/new/", a.handleContentCreate(typ))
	g.GET("/edit/:id/", a.handleContentEdit(typ))
	g.POST("/edit/:id/", a.handleContentUpdate(typ))
	g.POST("/trash/:id/", a.handleContentAction(typ, "trash"))
	g.POST("/restore/:id/", a.handleContentAction(typ, "restore"))
	g.POST("/delete/:id/", a.handleContentAction(typ, "delete"))
	g.POST("/bulk/", a.handleContentBulk(typ))
}

func listPath(typ string) string {
	return "/admin/" + typ + "s/"
}

// pageParam returns the 1-based page query parameter.
func pageParam(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func idParam(c echo.Context) int64 {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return id
}

func totalPages(total, per int) int {
	if total == 0 || per < 1 {
		return 1
	}
	return (total + per - 1) / per
}

type contentListData struct {
	Type       string
	Label      string
	Items      []Post
	Counts     map[string]int
	Statuses   []string
	Status     string
	Search     string
	Page       int
	TotalPages int
	Query      string
}

func (a *App) handleContentList(typ string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		d := contentListData{
			Type:     typ,
			Label:    strings.ToLower(typeLabel(typ)) + "s",
			Statuses: listStatuses,
			Status:   c.QueryParam("status"),
			Search:   strings.TrimSpace(c.QueryParam("q")),
			Page:     pageParam(c),
		}
		var total int
		var err error
		d.Items, total, err = a.Posts.List(ctx, PostQuery{
			Type:   typ,
			Status: d.Status,
			Search: d.Search,
			Limit:  adminPerPage,
			Offset: (d.Page - 1) * adminPerPage,
		})
		if err != nil {
			return err
		}
		if d.Counts, err = a.Posts.Counts(ctx, typ); err != nil {
			return err
		}
		d.TotalPages = totalPages(total, adminPerPage)
		q := url.Values{}
		if d.Status != "" {
			q.Set("status", d.Status)
		}
		if d.Search != "" {
			q.Set("q", d.Search)
		}
		if enc := q.Encode(); enc != "" {
			d.Query = enc + "&"
		}
		return a.renderAdmin(c, "posts", typeLabel(typ)+"s", typ+"s", d)
	}
}

type contentFormData struct {
	Type       string
	Post       Post
	Action     string
	Categories []Term
	Parents    []Post
	Templates  map[string]string
}

func (a *App) contentForm(c echo.Context, code int, p Post) error {
	ctx := c.Request().Context()
	d := contentFormData{Type: p.Type, Post: p, Action: listPath(p.Type) + "new/"}
	if p.ID != 0 {
		d.Action = fmt.Sprintf("%sedit/%d/", listPath(p.Type), p.ID)
	}
	var err error
	switch p.Type {
	case TypePost:
		if d.Categories, err = a.Terms.List(ctx, TaxonomyCategory, ""); err != nil {
			return err
		}
	case TypePage:
		if d.Parents, _, err = a.Posts.List(ctx, PostQuery{Type: TypePage}); err != nil {
			return err
		}
		t, err := a.Themes.Active(ctx)
		if err != nil {
			return err
		}
		d.Templates = t.Templates
	}
	title := "Add " + typeLabel(p.Type)
	if p.ID != 0 {
		title = "Edit " + typeLabel(p.Type)
	}
	return a.renderAdminStatus(c, code, "post_edit", title, p.Type+"s", d)
}

func (a *App) handleContentNew(typ string) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := Post{Type: typ, Status: StatusDraft}
		if typ == TypePost {
			if id, err := a.defaultCategoryID(c.Request().Context()); err == nil {
				p.Categories = []Term{{ID: id}}
			}
		}
		return a.contentForm(c, http.StatusOK, p)
	}
}

func (a *App) defaultCategoryID(ctx context.Context) (int64, error) {
	v, err := a.Settings.Get(ctx, "default_category")
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (a *App) handleContentEdit(typ string) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := a.Posts.Get(c.Request().Context(), typ, idParam(c))
		if err != nil {
			return a.fail(c, err, listPath(typ))
		}
		return a.contentForm(c, http.StatusOK, p)
	}
}

// postInput reads the editor form. Publish times are entered in the site
// timezone.
func (a *App) postInput(c echo.Context) (PostInput, error) {
	form, err := c.FormParams()
	if err != nil {
		return PostInput{}, err
	}
	in := PostInput{
		Title:       form.Get("title"),
		Slug:        form.Get("slug"),
		Content:     form.Get("content"),
		Excerpt:     form.Get("excerpt"),
		Format:      form.Get("format"),
		Status:      form.Get("status"),
		Template:    form.Get("template"),
		CategoryIDs: parseIDs(form["categories"]),
		Tags:        SplitList(form.Get("tags")),
	}
	in.ParentID, _ = strconv.ParseInt(form.Get("parent_id"), 10, 64)
	in.MenuOrder, _ = strconv.Atoi(form.Get("menu_order"))
	if raw := strings.TrimSpace(form.Get("published_at")); raw != "" {
		t, err := time.ParseInLocation("2006-01-02T15:04", raw, a.Settings.Location(c.Request().Context()))
		if err != nil {
			return in, Invalid("Publish date is not valid")
		}
		in.PublishedAt = t.UTC()
	}
	return in, nil
}

// formPost echoes submitted values back into the editor after a failed save.
func formPost(base Post, in PostInput) Post {
	p := base
	p.Title, p.Slug, p.Content, p.Excerpt = in.Title, in.Slug, in.Content, in.Excerpt
	if in.Format != "" {
		p.Format = in.Format
	}
	if in.Status != "" {
		p.Status = in.Status
	}
	p.PublishedAt, p.ParentID, p.Template, p.MenuOrder = in.PublishedAt, in.ParentID, in.Template, in.MenuOrder
	p.Categories = nil
	for _, id := range in.CategoryIDs {
		p.Categories = append(p.Categories, Term{ID: id})
	}
	p.Tags = nil
	for _, name := range in.Tags {
		p.Tags = append(p.Tags, Term{Name: name})
	}
	return p
}

func (a *App) saveFailed(c echo.Context, err error, p Post) error {
	code, msg := describeError(err)
	if code >= http.StatusInternalServerError {
		return err
	}
	flash(c, flashError, msg)
	return a.contentForm(c, code, p)
}

func (a *App) handleContentCreate(typ string) echo.HandlerFunc {
	return func(c echo.Context) error {
		in, err := a.postInput(c)
		if err != nil {
			return a.saveFailed(c, err, formPost(Post{Type: typ}, in))
		}
		p, err := a.Posts.Create(c.Request().Context(), CurrentUser(c), typ, in)
		if err != nil {
			return a.saveFailed(c, err, formPost(Post{Type: typ}, in))
		}
		a.metrics.saves.WithLabelValues(typ).Inc()
		return done(c, typeLabel(typ)+" saved.", fmt.Sprintf("%sedit/%d/", listPath(typ), p.ID))
	}
}

func (a *App) handleContentUpdate(typ string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := idParam(c)
		current, err := a.Posts.Get(ctx, typ, id)
		if err != nil {
			return a.fail(c, err, listPath(typ))
		}
		in, err := a.postInput(c)
		if err != nil {
			return a.saveFailed(c, err, formPost(current, in))
		}
		if _, err := a.Posts.Update(ctx, CurrentUser(c), typ, id, in); err != nil {
			return a.saveFailed(c, err, formPost(current, in))
		}
		a.metrics.saves.WithLabelValues(typ).Inc()
		return done(c, typeLabel(typ)+" updated.", fmt.Sprintf("%sedit/%d/", listPath(typ), id))
	}
}

var actionMessages = map[string]string{
	"trash":   "moved to the trash",
	"restore": "restored",
	"delete":  "permanently deleted",
}

func (a *App) handleContentAction(typ, action string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := idParam(c)
		actor := CurrentUser(c)
		var err error
		switch action {
		case "trash":
			err = a.Posts.Trash(ctx, actor, typ, id)
		case "restore":
			err = a.Posts.Restore(ctx, actor, typ, id)
		case "delete":
			err = a.Posts.Delete(ctx, actor, typ, id)
		}
		back := listPath(typ)
		if action != "trash" {
			back += "?status=trash"
		}
		if err != nil {
			return a.fail(c, err, back)
		}
		return done(c, typeLabel(typ)+" "+actionMessages[action]+".", back)
	}
}

func (a *App) handleContentBulk(typ string) echo.HandlerFunc {
	return func(c echo.Context) error {
		form, err := c.FormParams()
		if err != nil {
			return err
		}
		action := form.Get("action")
		back := listPath(typ)
		if action == "restore" || action == "delete" {
			back += "?status=trash"
		}
		n, err := a.Posts.Bulk(c.Request().Context(), CurrentUser(c), typ, action, parseIDs(form["ids"]))
		if err != nil {
			return a.fail(c, err, back)
		}
		return done(c, fmt.Sprintf("%d %s %s.", n, strings.ToLower(typeLabel(typ))+plural(n), actionMessages[action]), back)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
