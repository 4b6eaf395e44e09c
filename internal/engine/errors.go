package engine

import (
	"errors"
	"fmt"

	"svcqueue/internal/store"
)

// Kind is the error taxonomy the API surface maps to HTTP status codes.
// Every write-path operation returns either a committed result or an Error
// of one of these kinds; there is no third outcome.
type Kind string

const (
	KindInvalidArgument    Kind = "InvalidArgument"
	KindUnauthorized       Kind = "Unauthorized"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindFailedPrecondition Kind = "FailedPrecondition"
	KindConflict           Kind = "Conflict"
	KindInternal           Kind = "Internal"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *Error            { return newErr(KindInvalidArgument, format, args...) }
func unauthorized(format string, args ...any) *Error        { return newErr(KindUnauthorized, format, args...) }
func forbidden(format string, args ...any) *Error           { return newErr(KindForbidden, format, args...) }
func notFound(format string, args ...any) *Error            { return newErr(KindNotFound, format, args...) }
func failedPrecondition(format string, args ...any) *Error  { return newErr(KindFailedPrecondition, format, args...) }
func conflict(format string, args ...any) *Error            { return newErr(KindConflict, format, args...) }
func internal(cause error, format string, args ...any) *Error {
	e := newErr(KindInternal, format, args...)
	e.cause = cause
	return e
}

// classifyStoreErr translates a sentinel store error into the engine's
// taxonomy; any other error (a genuine I/O failure) becomes Internal.
func classifyStoreErr(err error) *Error {
	switch {
	case errors.Is(err, store.ErrBusinessNotFound),
		errors.Is(err, store.ErrHelperNotFound),
		errors.Is(err, store.ErrServiceNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrManualNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		return notFound("%s", err.Error())
	case errors.Is(err, store.ErrBusinessInactive),
		errors.Is(err, store.ErrEntryTerminal),
		errors.Is(err, store.ErrNoSuccessor),
		errors.Is(err, store.ErrNotHead),
		errors.Is(err, store.ErrHelperIncapable),
		errors.Is(err, store.ErrHelperInactive),
		errors.Is(err, store.ErrNoUndoableEvent),
		errors.Is(err, store.ErrAlreadyHeld),
		errors.Is(err, store.ErrNotHeld),
		errors.Is(err, store.ErrRatingSet),
		errors.Is(err, store.ErrNotComplete):
		return failedPrecondition("%s", err.Error())
	case errors.Is(err, store.ErrUserSuspended):
		return failedPrecondition("%s", err.Error())
	case errors.Is(err, store.ErrConflict):
		return conflict("%s", err.Error())
	default:
		return internal(err, "store operation failed")
	}
}
