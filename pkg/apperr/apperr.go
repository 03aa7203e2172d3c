// Package apperr defines typed application errors that carry a kind, a public
// message and structured details. Handlers map the kind to an HTTP status and
// render details as-is, so callers never have to parse error strings.
package apperr

import (
	"fmt"
	"maps"
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindStateConflict Kind = "state_conflict"
	KindIdempotency   Kind = "idempotency_key_reused"
	KindRateLimited   Kind = "rate_limited"
	KindDependency    Kind = "dependency"
	KindInternal      Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:    http.StatusBadRequest,
	KindUnauthorized:  http.StatusUnauthorized,
	KindForbidden:     http.StatusForbidden,
	KindNotFound:      http.StatusNotFound,
	KindConflict:      http.StatusConflict,
	KindStateConflict: http.StatusUnprocessableEntity,
	KindIdempotency:   http.StatusConflict,
	KindRateLimited:   http.StatusTooManyRequests,
	KindDependency:    http.StatusServiceUnavailable,
	KindInternal:      http.StatusInternalServerError,
}

// StatusCode returns the HTTP status for the kind. Unknown kinds map to 500.
func (k Kind) StatusCode() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a typed application error.
type Error struct {
	kind    Kind
	message string
	details map[string]string
	cause   error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that keeps err as its cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{kind: kind, message: message, cause: err}
}

// With returns a copy of e with an additional detail field.
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.details = make(map[string]string, len(e.details)+1)
	maps.Copy(cp.details, e.details)
	cp.details[key] = value
	return &cp
}

func (e *Error) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details returns the structured context of the error. The map must not be
// modified by callers.
func (e *Error) Details() map[string]string {
	if e == nil {
		return nil
	}
	return e.details
}

// StatusCode is a shorthand for e.Kind().StatusCode().
func (e *Error) StatusCode() int {
	return e.Kind().StatusCode()
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports a match for another *Error of the same kind and message, which
// lets package-level sentinels be compared with errors.Is even after With.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.kind == t.kind && e.message == t.message
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if typed, ok := As(err); ok {
		return typed.Kind()
	}
	return KindInternal
}
