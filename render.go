package pressli

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pressli/pressli/views"
)

// Render writes a templ component as an HTTP 200 HTML response.
func Render(c echo.Context, cmp templ.Component) error {
	return RenderStatus(c, http.StatusOK, cmp)
}

// RenderStatus writes a templ component with a specific HTTP status code.
func RenderStatus(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}

// envelope is the JSON shape every AJAX endpoint answers with.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c echo.Context, msg string, data any) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Message: msg, Data: data})
}

// failJSON writes err as an error envelope. Errors that are not service
// errors are logged and reported generically.
func (a *App) failJSON(c echo.Context, err error) error {
	code, msg := describeError(err)
	if code >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	return c.JSON(code, envelope{Message: msg})
}

// fail flashes err and redirects to target. Unknown errors go to the error
// handler instead.
func (a *App) fail(c echo.Context, err error, target string) error {
	code, msg := describeError(err)
	if code >= http.StatusInternalServerError {
		return err
	}
	flash(c, flashError, msg)
	return c.Redirect(http.StatusSeeOther, target)
}

// done flashes a success message and redirects to target.
func done(c echo.Context, msg, target string) error {
	flash(c, flashSuccess, msg)
	return c.Redirect(http.StatusSeeOther, target)
}

// page builds the common data of an admin page and consumes pending flashes.
func (a *App) page(c echo.Context, title, section string, data any) views.Page {
	p := views.Page{
		Title:   title,
		Section: section,
		CSRF:    CsrfToken(c),
		Data:    data,
	}
	if u := CurrentUser(c); u != nil {
		p.User = u
	}
	p.SiteTitle, _ = a.Settings.Get(c.Request().Context(), "site_title")
	if sess, err := session.Get(sessionName, c); err == nil {
		var taken bool
		for _, kind := range []string{flashSuccess, flashError} {
			for _, f := range sess.Flashes(kind) {
				if msg, ok := f.(string); ok {
					p.Flashes = append(p.Flashes, views.Flash{Kind: kind, Message: msg})
				}
				taken = true
			}
		}
		if taken {
			_ = sess.Save(c.Request(), c.Response())
		}
	}
	return p
}

func (a *App) renderAdmin(c echo.Context, name, title, section string, data any) error {
	return a.renderAdminStatus(c, http.StatusOK, name, title, section, data)
}

func (a *App) renderAdminStatus(c echo.Context, code int, name, title, section string, data any) error {
	return RenderStatus(c, code, views.Admin(name, a.page(c, title, section, data)))
}

// renderError renders the admin error screen. Signed-in users see it inside
// the admin layout.
func (a *App) renderError(c echo.Context, code int, msg string) error {
	data := views.ErrorData{Code: code, Message: msg}
	p := a.page(c, http.StatusText(code), "", data)
	if p.User != nil {
		return RenderStatus(c, code, views.Admin("error", p))
	}
	return RenderStatus(c, code, views.ErrorPage(p, data))
}
