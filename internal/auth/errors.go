package auth

import (
	"errors"
	"net/http"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrRoleNotFound   = errors.New("role not found")
	ErrDuplicateEmail = errors.New("email is already registered")
	ErrTokenNotFound  = errors.New("action token not found")
	ErrNoLiveTokens   = errors.New("no live action tokens")
	ErrTokenMismatch  = errors.New("code does not match any candidate")
)

// Error is a status-coded domain failure. Every flow fails with one of these;
// the handler layer is the single point converting them to the wire envelope.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func Invalid(message string) *Error {
	return NewError(http.StatusBadRequest, message)
}

func Unauthorized(message string) *Error {
	return NewError(http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return NewError(http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return NewError(http.StatusNotFound, message)
}

func Conflict(message string) *Error {
	return NewError(http.StatusConflict, message)
}

// StatusOf maps any error to an HTTP status, defaulting to 500 for
// unexpected failures so internals never leak outward.
func StatusOf(err error) int {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Status
	}
	return http.StatusInternalServerError
}
