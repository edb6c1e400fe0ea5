package zcapld

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classifies an authorization failure for the HTTP surface. The wire
// name and status follow the zcap convention so clients can branch on them.
type Error struct {
	name    string
	message string
	status  int
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Name is the wire name of the failure class
func (e *Error) Name() string {
	return e.name
}

// Message is the wire message, without any wrapped cause
func (e *Error) Message() string {
	return e.message
}

// StatusCode is the HTTP status this failure renders as
func (e *Error) StatusCode() int {
	return e.status
}

// Is matches errors of the same failure class
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.name == te.name && e.message == te.message
}

// WithCause returns a copy of the error carrying the underlying cause
func (e *Error) WithCause(cause error) *Error {
	return &Error{name: e.name, message: e.message, status: e.status, cause: cause}
}

var (
	// ErrMalformedAuthorization - the authorization header is missing, of the
	// wrong scheme, or unparseable
	ErrMalformedAuthorization = &Error{
		name:    "DataError",
		message: "Malformed or missing authorization header.",
		status:  http.StatusBadRequest,
	}
	// ErrMissingDigest - a body is present but the digest header is not
	ErrMissingDigest = &Error{
		name:    "DataError",
		message: `A "digest" header must be present when an HTTP body is present.`,
		status:  http.StatusBadRequest,
	}
	// ErrDigestMismatch - the digest header does not match the body bytes
	ErrDigestMismatch = &Error{
		name:    "DataError",
		message: `The "digest" header value does not match digest of body.`,
		status:  http.StatusBadRequest,
	}
	// ErrBadExpectedValues - the host supplied expected values are misshaped
	ErrBadExpectedValues = &Error{
		name:    "TypeError",
		message: `"getExpectedValues" must return an object.`,
		status:  http.StatusInternalServerError,
	}
	// ErrUnsupportedMethod - no default action exists for the HTTP method
	ErrUnsupportedMethod = &Error{
		name:    "NotSupportedError",
		message: "The HTTP method has no default capability action.",
		status:  http.StatusBadRequest,
	}
	// ErrRootNotRevocable - a root capability was submitted for revocation
	ErrRootNotRevocable = &Error{
		name:    "NotAllowedError",
		message: "A root capability cannot be revoked.",
		status:  http.StatusBadRequest,
	}
	// ErrInvalidDelegation - the submitted capability delegation did not verify
	ErrInvalidDelegation = &Error{
		name:    "DataError",
		message: "The provided capability delegation is invalid.",
		status:  http.StatusBadRequest,
	}
	// ErrUnrelatedServiceObject - the delegation does not root in this service object
	ErrUnrelatedServiceObject = &Error{
		name:    "NotAllowedError",
		message: "The provided capability delegation is unrelated to this service object.",
		status:  http.StatusForbidden,
	}
	// ErrNotAuthorized - any signature or chain verification failure at the
	// invocation stage
	ErrNotAuthorized = &Error{
		name:    "NotAllowedError",
		message: "Forbidden",
		status:  http.StatusForbidden,
	}
	// ErrMisconfigured - the revocation pipeline is mounted on a route without
	// the required suffix
	ErrMisconfigured = &Error{
		name:    "InvalidStateError",
		message: "The revocation handler must be mounted at a route ending in /revocations/{revocationID}.",
		status:  http.StatusInternalServerError,
	}
)

// NotAuthorized wraps a verification failure into the not authorized class
func NotAuthorized(cause error) *Error {
	return ErrNotAuthorized.WithCause(cause)
}

// NotAuthorizedf builds a not authorized error from a format string
func NotAuthorizedf(format string, args ...interface{}) *Error {
	return ErrNotAuthorized.WithCause(fmt.Errorf(format, args...))
}

// BadExpectedValuesf builds a bad expected values error with a specific
// message; these are host programming errors and render as 500s.
func BadExpectedValuesf(format string, args ...interface{}) *Error {
	return &Error{
		name:    "TypeError",
		message: fmt.Sprintf(format, args...),
		status:  http.StatusInternalServerError,
	}
}
