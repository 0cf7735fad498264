// Package errs defines the named error taxonomy shared by every
// component of the ACL. Every error that crosses a public API boundary
// carries a Kind, an http status hint and a retryable flag, the way
// rdf/util.go's newHTTPError/statusIsOK pair did for the teacher's flat
// error strings, generalized into a reusable typed error.
package errs

import "fmt"

// Kind names a class of error without relying on Go's type identity.
type Kind string

const (
	// Input errors: detected before any I/O.
	InvalidIri           Kind = "InvalidIri"
	InvalidLiteral       Kind = "InvalidLiteral"
	InvalidPrefix        Kind = "InvalidPrefix"
	InvalidKey           Kind = "InvalidKey"
	InvalidCursor        Kind = "InvalidCursor"
	InvalidConfig        Kind = "InvalidConfig"
	ConstraintViolation  Kind = "ConstraintViolation"

	// Policy errors.
	DeleteCeilingExceeded Kind = "DeleteCeilingExceeded"
	LimitExceedsProfile   Kind = "LimitExceedsProfile"
	UnknownStrategy       Kind = "UnknownStrategy"
	UnknownAlgorithm      Kind = "UnknownAlgorithm"

	// Conflict - informational, surfaced in conflicts[], not normally thrown.
	IdempotencyConflict Kind = "IdempotencyConflict"

	// Upstream errors.
	BadRequest        Kind = "BadRequest"
	Unauthenticated   Kind = "Unauthenticated"
	Forbidden         Kind = "Forbidden"
	NotFound          Kind = "NotFound"
	FusekiQueryError  Kind = "FusekiQueryError"
	FusekiConnectError Kind = "FusekiConnectError"
	FusekiCircuitOpen Kind = "FusekiCircuitOpen"

	// Internal.
	Unexpected Kind = "Unexpected"
)

// retryableKinds lists kinds that are safe for a caller to re-invoke with
// identical inputs.
var retryableKinds = map[Kind]bool{
	FusekiQueryError:   true,
	FusekiConnectError: true,
	FusekiCircuitOpen:  true,
}

// Error is the single error type used across the ACL's public API.
type Error struct {
	Kind            Kind
	Message         string
	HTTPStatusHint  int
	Retryable       bool
	TraceID         string
	Cause           error
}

func (e *Error) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s: %s (trace_id=%s)", e.Kind, e.Message, e.TraceID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryableKinds[kind],
	}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Cause = cause
	return e
}

// WithHTTPStatus attaches an http status hint, returning the same error for chaining.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatusHint = status
	return e
}

// WithTraceID attaches a trace id, returning the same error for chaining.
func (e *Error) WithTraceID(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// FromHTTPStatus maps a SPARQL Protocol HTTP response status to a Kind,
// per spec §4.8's response-mapping table.
func FromHTTPStatus(status int, body string) *Error {
	switch status {
	case 400:
		return New(BadRequest, "bad request: %s", body).WithHTTPStatus(400)
	case 401:
		return New(Unauthenticated, "unauthenticated: %s", body).WithHTTPStatus(401)
	case 403:
		return New(Forbidden, "forbidden: %s", body).WithHTTPStatus(403)
	case 404:
		return New(NotFound, "not found: %s", body).WithHTTPStatus(404)
	default:
		return New(FusekiQueryError, "store returned status %d: %s", status, body).WithHTTPStatus(status)
	}
}

// IsRetryableStatus reports whether an upstream HTTP status code is
// retryable per the default retry policy (spec §4.8).
func IsRetryableStatus(status int) bool {
	switch status {
	case 429, 502, 503, 504:
		return true
	default:
		return false
	}
}
