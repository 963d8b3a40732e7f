package pressli

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/pressli/pressli/bundle"
	"github.com/pressli/pressli/plugin"
	"github.com/pressli/pressli/theme"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = sql.ErrNoRows
	// ErrInvalid marks validation failures.
	ErrInvalid = errors.New("invalid input")
	// ErrConflict marks uniqueness and state conflicts.
	ErrConflict = errors.New("conflict")
	// ErrForbidden marks capability failures.
	ErrForbidden = errors.New("forbidden")
)

// ServiceError is a user-facing failure raised by a service. Handlers show
// Message to the user; Err, when set, is the underlying cause.
type ServiceError struct {
	Kind    error
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Invalid returns a validation ServiceError.
func Invalid(format string, args ...any) error {
	return &ServiceError{Kind: ErrInvalid, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a conflict ServiceError.
func Conflict(format string, args ...any) error {
	return &ServiceError{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found ServiceError.
func NotFound(what string) error {
	return &ServiceError{Kind: ErrNotFound, Message: what + " not found"}
}

// Forbidden returns a capability ServiceError.
func Forbidden(format string, args ...any) error {
	return &ServiceError{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

// notFoundAs converts sql.ErrNoRows into a NotFound ServiceError naming what.
func notFoundAs(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound(what)
	}
	return err
}

// libErrors maps errors from the theme, plugin and bundle packages to a
// status code and a message suitable for the admin UI.
var libErrors = []struct {
	err  error
	code int
	msg  string
}{
	{theme.ErrInvalidManifest, http.StatusUnprocessableEntity, "The theme package has an invalid theme.json."},
	{theme.ErrExists, http.StatusConflict, "That theme is already installed."},
	{theme.ErrNotFound, http.StatusNotFound, "Theme not found."},
	{theme.ErrActive, http.StatusConflict, "The active theme cannot be deleted."},
	{theme.ErrSameVersion, http.StatusConflict, "That version of the theme is already installed."},
	{theme.ErrInvalidSetting, http.StatusUnprocessableEntity, ""},
	{plugin.ErrInvalidManifest, http.StatusUnprocessableEntity, "The plugin has an invalid plugin.json."},
	{plugin.ErrExists, http.StatusConflict, "That plugin is already installed."},
	{plugin.ErrNotFound, http.StatusNotFound, "Plugin not found."},
	{plugin.ErrActive, http.StatusConflict, "Deactivate the plugin before deleting it."},
	{bundle.ErrUnsafePath, http.StatusUnprocessableEntity, "The archive contains unsafe paths."},
	{bundle.ErrTooLarge, http.StatusUnprocessableEntity, "The archive is too large."},
	{bundle.ErrManifestMissing, http.StatusUnprocessableEntity, "The archive does not contain a manifest at its root."},
}

// describeError returns the HTTP status and user message for err. Unknown
// errors map to 500 with a generic message; the caller logs them.
func describeError(err error) (int, string) {
	var se *ServiceError
	if errors.As(err, &se) {
		switch se.Kind {
		case ErrInvalid:
			return http.StatusUnprocessableEntity, se.Message
		case ErrConflict:
			return http.StatusConflict, se.Message
		case ErrNotFound:
			return http.StatusNotFound, se.Message
		case ErrForbidden:
			return http.StatusForbidden, se.Message
		}
	}
	for _, le := range libErrors {
		if errors.Is(err, le.err) {
			if le.msg == "" {
				return le.code, err.Error()
			}
			return le.code, le.msg
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "Not found."
	}
	return http.StatusInternalServerError, "Something went wrong. Please try again."
}
