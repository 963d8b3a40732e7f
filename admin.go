package pressli

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pressli/pressli/analytics"
	"github.com/pressli/pressli/views"
)

func (a *App) handleLoginForm(c echo.Context) error {
	if sessionUserID(c) != 0 {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	return a.renderLogin(c, http.StatusOK, views.LoginData{Next: c.QueryParam("next")})
}

func (a *App) renderLogin(c echo.Context, code int, data views.LoginData) error {
	return RenderStatus(c, code, views.LoginPage(a.page(c, "Log in", "login", data), data))
}

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	data := views.LoginData{Login: strings.TrimSpace(c.FormValue("login")), Next: c.FormValue("next")}
	if !a.loginLimiter.Check(ip) {
		a.metrics.logins.WithLabelValues("limited").Inc()
		flash(c, flashError, "Too many login attempts. Try again later.")
		return a.renderLogin(c, http.StatusTooManyRequests, data)
	}
	u, err := a.Users.Authenticate(c.Request().Context(), data.Login, c.FormValue("password"))
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, ErrBadCredentials):
			msg = "Invalid username or password."
		case errors.Is(err, ErrForbidden):
			_, msg = describeError(err)
		default:
			return err
		}
		a.loginLimiter.Record(ip)
		a.metrics.logins.WithLabelValues("failed").Inc()
		a.log.Info("login failed", zap.String("login", data.Login), zap.String("ip", ip))
		flash(c, flashError, msg)
		return a.renderLogin(c, http.StatusUnauthorized, data)
	}
	a.loginLimiter.Reset(ip)
	if err := setUserSession(c, u.ID); err != nil {
		return err
	}
	a.metrics.logins.WithLabelValues("ok").Inc()
	a.log.Info("login", zap.String("user", u.Username), zap.String("ip", ip))
	return c.Redirect(http.StatusSeeOther, safeNext(data.Next))
}

// safeNext keeps post-login redirects inside the admin panel.
func safeNext(next string) string {
	if strings.HasPrefix(next, "/admin/") && !strings.HasPrefix(next, "//") && !strings.Contains(next, "\\") {
		return next
	}
	return "/admin/"
}

func (a *App) handleLogout(c echo.Context) error {
	if err := clearUserSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/login/")
}

type dashboardData struct {
	Posts      map[string]int
	Pages      map[string]int
	Categories int
	Tags       int
	MediaCount int
	MediaSize  int64
	Drafts     []Post
	Theme      string
	Version    string
	Visits     *analytics.Summary
}

func (a *App) handleDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	u := CurrentUser(c)
	var d dashboardData

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Posts, err = a.Posts.Counts(gctx, TypePost)
		return err
	})
	g.Go(func() (err error) {
		d.Pages, err = a.Posts.Counts(gctx, TypePage)
		return err
	})
	g.Go(func() error {
		cats, err := a.Store.ListTerms(gctx, TaxonomyCategory, "")
		if err != nil {
			return err
		}
		tags, err := a.Store.ListTerms(gctx, TaxonomyTag, "")
		d.Categories, d.Tags = len(cats), len(tags)
		return err
	})
	g.Go(func() (err error) {
		d.MediaCount, d.MediaSize, err = a.Store.CountMedia(gctx)
		return err
	})
	g.Go(func() error {
		q := PostQuery{Status: StatusDraft, Limit: 5}
		if !u.Can(CapEditOthers) {
			q.Type, q.AuthorID = TypePost, u.ID
		}
		drafts, _, err := a.Posts.List(gctx, q)
		d.Drafts = drafts
		return err
	})
	g.Go(func() error {
		t, err := a.Themes.Active(gctx)
		if err != nil {
			return err
		}
		d.Theme = t.Name
		d.Version, err = a.Settings.Get(gctx, "core_version")
		return err
	})
	if a.Analytics != nil && u.Can(CapManageOptions) {
		g.Go(func() (err error) {
			from, to := analytics.Periods[0].Range(a.now())
			d.Visits, err = a.Analytics.Summary(gctx, from, to, 5)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return a.renderAdmin(c, "dashboard", "Dashboard", "dashboard", d)
}

type userFormData struct {
	Account User
	Roles   []Role
	Action  string
	Profile bool
}

func (a *App) handleProfile(c echo.Context) error {
	u := CurrentUser(c)
	return a.renderAdmin(c, "user_edit", "Profile", "profile", userFormData{Account: *u, Action: "/admin/profile/", Profile: true})
}

func (a *App) handleProfileSave(c echo.Context) error {
	_, err := a.Users.UpdateProfile(c.Request().Context(), CurrentUser(c), userInput(c))
	if err != nil {
		return a.fail(c, err, "/admin/profile/")
	}
	return done(c, "Profile updated.", "/admin/profile/")
}

func userInput(c echo.Context) UserInput {
	return UserInput{
		Username:    c.FormValue("username"),
		Email:       c.FormValue("email"),
		DisplayName: c.FormValue("display_name"),
		Password:    c.FormValue("password"),
		Role:        c.FormValue("role"),
	}
}
