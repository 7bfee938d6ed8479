package server

import (
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes from RFC 6749.
// Note: These are intentionally duplicated from the root package's errors.go
// to avoid circular imports (the root package imports server, server can't
// import the root). Keep these in sync.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeServerError          = "server_error"
)

// Error is an OAuth-taxonomy error produced by the engine. The root package
// maps it onto the wire unchanged; no other error type crosses the HTTP
// boundary.
type Error struct {
	Code        string // OAuth error code (e.g. "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

func errInvalidRequest(desc string) *Error {
	return newError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

func errInvalidClient(desc string) *Error {
	return newError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

func errInvalidGrant(desc string) *Error {
	return newError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

func errAccessDenied(desc string) *Error {
	return newError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
}

func errServerError(desc string) *Error {
	return newError(ErrorCodeServerError, desc, http.StatusInternalServerError)
}

// RedirectError is a request-level failure that occurred after both the
// caller's identity and the redirect URI were established. It may be
// surfaced as a redirect to RedirectURI carrying error/error_description
// query parameters. Errors before that point must never redirect.
type RedirectError struct {
	RedirectURI string
	State       string
	Err         *Error
}

// Error implements the error interface
func (e *RedirectError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying OAuth error
func (e *RedirectError) Unwrap() error {
	return e.Err
}
