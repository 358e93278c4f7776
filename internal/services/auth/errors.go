package auth

import "errors"

// Error kinds. Rejections and storage failures returned by Auth match exactly
// one of them with errors.Is; transports map kinds, not individual errors.
var (
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
)

// Error is a rejection with a stable, client-safe message.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

var (
	ErrEmailTaken          = &Error{kind: ErrConflict, msg: "email already registered"}
	ErrInvalidCredentials  = &Error{kind: ErrUnauthorized, msg: "invalid credentials"}
	ErrInvalidRefreshToken = &Error{kind: ErrUnauthorized, msg: "invalid refresh token"}
	ErrRefreshTokenExpired = &Error{kind: ErrUnauthorized, msg: "refresh token expired"}
	ErrUserNotFound        = &Error{kind: ErrUnauthorized, msg: "user not found"}

	ErrInvalidEmail    = &Error{kind: ErrInvalidInput, msg: "invalid email"}
	ErrInvalidPassword = &Error{kind: ErrInvalidInput, msg: "password must be 6 to 72 bytes long"}
)

// Rejection returns the client-safe error carried by err, if any.
func Rejection(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
