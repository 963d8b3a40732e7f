package pressli

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,60}$`)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// UserInput is the editable part of a user. An empty Password keeps the
// current one on update.
type UserInput struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
	Role        string
}

// Users manages accounts and authentication.
type Users struct {
	store *Store
	cost  int
	log   *zap.Logger
}

// NewUsers creates a Users service hashing passwords with bcrypt cost.
func NewUsers(store *Store, cost int, log *zap.Logger) *Users {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Users{store: store, cost: cost, log: log}
}

// ErrBadCredentials is returned by Authenticate for any login failure.
var ErrBadCredentials = errors.New("invalid username or password")

// dummyHash is compared against when the login is unknown so both failure
// paths cost a bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("pressli-dummy-password"), bcrypt.MinCost)

// Authenticate checks a username or email and password.
func (s *Users) Authenticate(ctx context.Context, login, password string) (User, error) {
	u, err := s.store.GetUserByLogin(ctx, login)
	if isNotFound(err) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, ErrBadCredentials
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	if !u.Can(CapReadAdmin) {
		return User{}, Forbidden("Your account cannot access the admin panel")
	}
	return u, nil
}

// Get returns a user.
func (s *Users) Get(ctx context.Context, id int64) (User, error) {
	u, err := s.store.GetUser(ctx, id)
	return u, notFoundAs(err, "User")
}

// List returns users filtered by role and search text.
func (s *Users) List(ctx context.Context, role, search string) ([]User, error) {
	return s.store.ListUsers(ctx, role, search)
}

// Roles returns every role.
func (s *Users) Roles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// Create validates and stores a new user.
func (s *Users) Create(ctx context.Context, in UserInput) (User, error) {
	var u User
	if in.Password == "" {
		return User{}, Invalid("Password is required")
	}
	return s.save(ctx, &u, in)
}

// Update validates and replaces a user's fields. The last administrator
// cannot be demoted.
func (s *Users) Update(ctx context.Context, id int64, in UserInput) (User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if u.Role.Name == RoleAdministrator && in.Role != RoleAdministrator {
		n, err := s.store.CountUsersWithRole(ctx, RoleAdministrator)
		if err != nil {
			return User{}, err
		}
		if n <= 1 {
			return User{}, Conflict("The last administrator cannot be given another role")
		}
	}
	return s.save(ctx, &u, in)
}

// UpdateProfile lets a user change their own email, display name and
// password. The role is kept.
func (s *Users) UpdateProfile(ctx context.Context, actor *User, in UserInput) (User, error) {
	u, err := s.Get(ctx, actor.ID)
	if err != nil {
		return User{}, err
	}
	in.Username = u.Username
	in.Role = u.Role.Name
	return s.save(ctx, &u, in)
}

func (s *Users) save(ctx context.Context, u *User, in UserInput) (User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if !usernamePattern.MatchString(username) {
		return User{}, Invalid("Username must be 3-60 characters of a-z, 0-9, _ . or -")
	}
	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return User{}, Invalid("Email address is not valid")
	}
	for _, f := range []struct{ field, value, msg string }{
		{"username", username, "That username is already taken"},
		{"email", email, "That email address is already in use"},
	} {
		taken, err := s.store.UserFieldTaken(ctx, f.field, f.value, u.ID)
		if err != nil {
			return User{}, err
		}
		if taken {
			return User{}, Conflict("%s", f.msg)
		}
	}
	role, err := s.store.GetRoleByName(ctx, in.Role)
	if err != nil {
		return User{}, Invalid("Unknown role %q", in.Role)
	}
	if in.Password != "" {
		hash, err := s.hash(in.Password)
		if err != nil {
			return User{}, err
		}
		u.PasswordHash = hash
	}
	u.Username, u.Email, u.DisplayName, u.Role = username, email, strings.TrimSpace(in.DisplayName), role
	if err := s.store.SaveUser(ctx, u); err != nil {
		return User{}, err
	}
	return *u, nil
}

func (s *Users) hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", Invalid("Password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > 72 {
		return "", Invalid("Password must be at most 72 bytes")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetPassword replaces a user's password.
func (s *Users) SetPassword(ctx context.Context, login, password string) error {
	u, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		return notFoundAs(err, "User")
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.store.SaveUser(ctx, &u)
}

// Delete soft-deletes a user and reassigns their content to actor. Users
// cannot delete themselves or the last administrator.
func (s *Users) Delete(ctx context.Context, actor *User, id int64) error {
	if actor.ID == id {
		return Conflict("You cannot delete your own account")
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.Role.Name == RoleAdministrator {
		n, err := s.store.CountUsersWithRole(ctx, RoleAdministrator)
		if err != nil {
			return err
		}
		if n <= 1 {
			return Conflict("The last administrator cannot be deleted")
		}
	}
	if err := s.store.DeleteUser(ctx, id, actor.ID); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.Int64("id", id), zap.Int64("content_to", actor.ID))
	return nil
}
