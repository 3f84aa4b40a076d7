package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable classification carried to clients next to the
// human-readable message.
type Kind string

const (
	KindSchemaViolation   Kind = "schema_violation"
	KindValidationFailure Kind = "validation_failure"
	KindPermissionDenied  Kind = "permission_denied"
	KindNotFound          Kind = "not_found"
	KindModelLocked       Kind = "model_locked"
	KindDatastoreError    Kind = "datastore_error"
)

type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() Kind    { return e.kind }

// Status maps the kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.kind {
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindModelLocked:
		return http.StatusConflict
	case KindDatastoreError:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func newError(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func NewSchemaViolation(format string, args ...any) error {
	return newError(KindSchemaViolation, format, args...)
}

func NewValidation(format string, args ...any) error {
	return newError(KindValidationFailure, format, args...)
}

func NewPermissionDenied(format string, args ...any) error {
	return newError(KindPermissionDenied, format, args...)
}

func NewNotFound(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func NewModelLocked(format string, args ...any) error {
	return newError(KindModelLocked, format, args...)
}

func NewDatastore(format string, args ...any) error {
	return newError(KindDatastoreError, format, args...)
}

// KindOf classifies an error chain. Unclassified errors report as datastore
// errors: anything a handler did not turn into a domain error is a backend
// fault.
func KindOf(err error) Kind {
	if e, ok := errors.AsType[*Error](err); ok {
		return e.kind
	}
	return KindDatastoreError
}

func Is(err error, kind Kind) bool {
	e, ok := errors.AsType[*Error](err)
	return ok && e.kind == kind
}

// StatusOf returns the HTTP status for an error chain, 502 for unclassified.
func StatusOf(err error) int {
	if e, ok := errors.AsType[*Error](err); ok {
		return e.Status()
	}
	return http.StatusBadGateway
}
