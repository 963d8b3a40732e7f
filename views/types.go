package views

// LoginData fills the sign-in form after a failed attempt.
type LoginData struct {
	Login string
	Next  string // path to return to after signing in
}

// ErrorData is shown on error screens.
type ErrorData struct {
	Code    int
	Message string
}
