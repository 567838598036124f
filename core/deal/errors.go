package deal

import (
	"errors"
	"fmt"

	"TrackDeal/core/auth"
)

// Kind classifies engine errors at the action boundary.
type Kind string

const (
	KindValidation             Kind = "ValidationError"
	KindInvalidTransition      Kind = "InvalidStateTransition"
	KindForbidden              Kind = "Forbidden"
	KindNotFound               Kind = "NotFound"
	KindPreconditionFailed     Kind = "PreconditionFailed"
	KindIntegrityUpdateFailed  Kind = "IntegrityUpdateFailed"
	KindConflict               Kind = "Conflict"
	KindContractGenerationFail Kind = "ContractGenerationFailed"
	KindInternal               Kind = "Internal"
)

// Error is the structured (kind, message) result every action returns on
// failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "" || e.Message == e.Err.Error():
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

func transitionf(format string, args ...interface{}) *Error {
	return newError(KindInvalidTransition, format, args...)
}

func forbiddenf(format string, args ...interface{}) *Error {
	return newError(KindForbidden, format, args...)
}

func notFound(entity string, id int64) *Error {
	return newError(KindNotFound, "%s %d not found", entity, id)
}

func preconditionf(format string, args ...interface{}) *Error {
	return newError(KindPreconditionFailed, format, args...)
}

// KindOf classifies any error. Guard denials are Forbidden; anything
// unrecognised is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var denied *auth.DeniedError
	if errors.As(err, &denied) {
		return KindForbidden
	}
	return KindInternal
}

// IsKind reports whether err classifies as k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func wrapDenied(err error) error {
	var denied *auth.DeniedError
	if errors.As(err, &denied) {
		return &Error{Kind: KindForbidden, Message: denied.Reason, Err: err}
	}
	return err
}
