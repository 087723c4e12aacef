// Package apperr defines the error taxonomy the HTTP layer maps to status
// codes and the workflow maps to terminal task failures.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one member of the error taxonomy.
type Kind string

const (
	KindInput       Kind = "input"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindRateLimited Kind = "rate_limited"
	KindSaturated   Kind = "saturated"
	KindProvider    Kind = "provider"
	KindData        Kind = "data"
	KindInternal    Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindInput:       http.StatusBadRequest,
	KindNotFound:    http.StatusNotFound,
	KindConflict:    http.StatusConflict,
	KindRateLimited: http.StatusTooManyRequests,
	KindSaturated:   http.StatusServiceUnavailable,
	KindProvider:    http.StatusInternalServerError,
	KindData:        http.StatusInternalServerError,
	KindInternal:    http.StatusInternalServerError,
}

// Error is a taxonomy-tagged error carrying a public, redacted message
// separate from the wrapped internal detail.
type Error struct {
	Kind    Kind
	Message string
	detail  error
}

func (e *Error) Error() string {
	if e.detail != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.detail }

// HTTPStatus returns the status code this error maps to at the API boundary.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func new(kind Kind, message string, detail error) *Error {
	return &Error{Kind: kind, Message: message, detail: detail}
}

func Input(message string, detail ...error) *Error       { return new(KindInput, message, first(detail)) }
func NotFound(message string, detail ...error) *Error    { return new(KindNotFound, message, first(detail)) }
func Conflict(message string, detail ...error) *Error    { return new(KindConflict, message, first(detail)) }
func RateLimited(message string, detail ...error) *Error { return new(KindRateLimited, message, first(detail)) }
func Saturated(message string, detail ...error) *Error   { return new(KindSaturated, message, first(detail)) }
func Provider(message string, detail ...error) *Error    { return new(KindProvider, message, first(detail)) }
func Data(message string, detail ...error) *Error        { return new(KindData, message, first(detail)) }
func Internal(message string, detail ...error) *Error    { return new(KindInternal, message, first(detail)) }

func first(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// As extracts an *Error from err, following the wrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
