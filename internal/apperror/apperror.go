// Package apperror defines the errors surfaced to API clients. Every error
// carries a stable code and a user-facing message; diagnostic detail lives
// in DevMessage and the wrapped cause and is only rendered in development.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindAuthentication Kind = "AuthenticationError"
	KindAuthorization  Kind = "AuthorizationError"
	KindUpstream       Kind = "UpstreamError"
	KindInternal       Kind = "InternalError"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

const (
	CodeUnauthenticated    = "Unauthenticated"
	CodeUnauthorized       = "Unauthorized"
	CodeEmailTaken         = "AUTH-001"
	CodeInvalidCredentials = "AUTH-002"
	CodeEmailNotConfirmed  = "AUTH-003"
	CodeWrongPassword      = "AUTH-004"
	CodeIncompleteSession  = "AUTH-005"
	CodeInvalidRequest     = "VAL-001"
	CodeUpstream           = "UPSTREAM-001"
	CodeUnsupportedByIdP   = "UPSTREAM-002"
	CodeInternal           = "INTERNAL-001"
	codeUnknown            = "UNKNOWN"
)

type entry struct {
	message    string
	devMessage string
}

var catalog = map[string]entry{
	CodeUnauthenticated:    {"Please log in to continue.", "no valid session for the presented token"},
	CodeUnauthorized:       {"You are not allowed to perform this action.", "session role does not satisfy the required roles"},
	CodeEmailTaken:         {"An account with this email already exists.", "identity provider reported a duplicate email"},
	CodeInvalidCredentials: {"Invalid email or password.", "identity provider rejected the password login"},
	CodeEmailNotConfirmed:  {"Please confirm your email address before logging in.", "identity provider reported an unconfirmed account"},
	CodeWrongPassword:      {"Current password is incorrect.", "re-authentication with the old password failed"},
	CodeIncompleteSession:  {"Could not start a session.", "identity session is missing an access token, refresh token or user"},
	CodeInvalidRequest:     {"The request is invalid.", "request body failed validation"},
	CodeUpstream:           {"The identity service is unavailable. Please try again later.", "identity provider call failed"},
	CodeUnsupportedByIdP:   {"This operation is not available.", "configured identity backend does not support the operation"},
	CodeInternal:           {"Something went wrong.", "unexpected internal error"},
}

type Error struct {
	Code       string
	Message    string
	DevMessage string
	Kind       Kind
	Data       any

	cause error
}

// New builds an error from the catalog. Unknown codes still produce a
// usable error with a generic message.
func New(code string, kind Kind, cause error) *Error {
	e, ok := catalog[code]
	if !ok {
		e = entry{message: "Unknown Error Code", devMessage: "Unknown Error Code"}
	}
	if kind == "" {
		kind = KindInternal
	}
	return &Error{
		Code:       code,
		Message:    e.message,
		DevMessage: e.devMessage,
		Kind:       kind,
		cause:      cause,
	}
}

// WithData attaches structured detail, e.g. field validation errors.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.DevMessage)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Status() int {
	return e.Kind.Status()
}

func Unauthenticated() *Error {
	return New(CodeUnauthenticated, KindAuthentication, nil)
}

func Unauthorized() *Error {
	return New(CodeUnauthorized, KindAuthorization, nil)
}

func Upstream(cause error) *Error {
	return New(CodeUpstream, KindUpstream, cause)
}

func Internal(cause error) *Error {
	return New(CodeInternal, KindInternal, cause)
}

func Invalid(cause error) *Error {
	return New(CodeInvalidRequest, KindValidation, cause)
}

// From converts any error into an *Error. Errors that are not already
// classified become internal errors.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:       codeUnknown,
		Message:    catalog[CodeInternal].message,
		DevMessage: err.Error(),
		Kind:       KindInternal,
		cause:      err,
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
