// Package apperror defines the error taxonomy shared by every service in the
// consultation engine and its mapping onto HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind categorises an error. Every error returned by a service is one of
// these kinds or an unclassified internal failure.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindStateConflict   Kind = "state_conflict"
	KindValidation      Kind = "validation_error"
	KindInternal        Kind = "internal"
)

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same kind with an empty
// message, so errors.Is(err, apperror.ErrForbidden) works on any forbidden error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrStateConflict   = &Error{Kind: KindStateConflict}
	ErrValidation      = &Error{Kind: KindValidation}
)

func Unauthenticated(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthenticated, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func StateConflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it as the cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts a service error into an echo.HTTPError. Internal errors do
// not leak their message to the client.
func ToHTTP(err error) *echo.HTTPError {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindInternal {
		msg := ae.Message
		if msg == "" {
			msg = string(ae.Kind)
		}
		return echo.NewHTTPError(HTTPStatus(ae.Kind), msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// ErrorBody is the JSON body written for every failed request.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPErrorHandler renders errors as ErrorBody. It understands both *Error and
// *echo.HTTPError so middleware errors are rendered the same way.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorBody{Error: string(KindInternal), Message: "internal server error"}

	var ae *Error
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ae):
		status = HTTPStatus(ae.Kind)
		body.Error = string(ae.Kind)
		if ae.Kind != KindInternal {
			body.Message = ae.Message
		}
	case errors.As(err, &he):
		status = he.Code
		body.Error = kindForStatus(he.Code)
		body.Message = fmt.Sprintf("%v", he.Message)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return string(KindUnauthenticated)
	case http.StatusForbidden:
		return string(KindForbidden)
	case http.StatusNotFound:
		return string(KindNotFound)
	case http.StatusConflict:
		return string(KindStateConflict)
	case http.StatusBadRequest:
		return string(KindValidation)
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return string(KindInternal)
	}
}
