package pressli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type usersData struct {
	Items  []User
	Roles  []Role
	Role   string
	Search string
	Self   int64
}

func (a *App) handleUsers(c echo.Context) error {
	ctx := c.Request().Context()
	d := usersData{
		Role:   c.QueryParam("role"),
		Search: strings.TrimSpace(c.QueryParam("q")),
		Self:   CurrentUser(c).ID,
	}
	var err error
	if d.Items, err = a.Users.List(ctx, d.Role, d.Search); err != nil {
		return err
	}
	if d.Roles, err = a.Users.Roles(ctx); err != nil {
		return err
	}
	return a.renderAdmin(c, "users", "Users", "users", d)
}

func (a *App) userForm(c echo.Context, code int, u User) error {
	roles, err := a.Users.Roles(c.Request().Context())
	if err != nil {
		return err
	}
	d := userFormData{Account: u, Roles: roles, Action: "/admin/users/new/"}
	title := "Add User"
	if u.ID != 0 {
		d.Action = fmt.Sprintf("/admin/users/edit/%d/", u.ID)
		title = "Edit User"
	}
	return a.renderAdminStatus(c, code, "user_edit", title, "users", d)
}

func (a *App) handleUserNew(c echo.Context) error {
	return a.userForm(c, http.StatusOK, User{Role: Role{Name: RoleAuthor}})
}

// userFailed re-renders the form with the submitted values.
func (a *App) userFailed(c echo.Context, err error, u User, in UserInput) error {
	code, msg := describeError(err)
	if code >= http.StatusInternalServerError {
		return err
	}
	flash(c, flashError, msg)
	u.Username, u.Email, u.DisplayName, u.Role.Name = in.Username, in.Email, in.DisplayName, in.Role
	return a.userForm(c, code, u)
}

func (a *App) handleUserCreate(c echo.Context) error {
	in := userInput(c)
	u, err := a.Users.Create(c.Request().Context(), in)
	if err != nil {
		return a.userFailed(c, err, User{}, in)
	}
	return done(c, fmt.Sprintf("User %s added.", u.Username), "/admin/users/")
}

func (a *App) handleUserEdit(c echo.Context) error {
	u, err := a.Users.Get(c.Request().Context(), idParam(c))
	if err != nil {
		return a.fail(c, err, "/admin/users/")
	}
	return a.userForm(c, http.StatusOK, u)
}

func (a *App) handleUserUpdate(c echo.Context) error {
	ctx := c.Request().Context()
	current, err := a.Users.Get(ctx, idParam(c))
	if err != nil {
		return a.fail(c, err, "/admin/users/")
	}
	in := userInput(c)
	if _, err := a.Users.Update(ctx, current.ID, in); err != nil {
		return a.userFailed(c, err, current, in)
	}
	return done(c, "User updated.", "/admin/users/")
}

func (a *App) handleUserDelete(c echo.Context) error {
	if err := a.Users.Delete(c.Request().Context(), CurrentUser(c), idParam(c)); err != nil {
		return a.fail(c, err, "/admin/users/")
	}
	return done(c, "User deleted. Their content now belongs to you.", "/admin/users/")
}
