package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds returned across the core boundary. Match with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrPermission        = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrGateway           = errors.New("payment gateway error")
	ErrPersistence       = errors.New("persistence error")
)

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

func Validation(format string, args ...any) error {
	return errors.WithStack(&kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)})
}

func NotFound(format string, args ...any) error {
	return errors.WithStack(&kindError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)})
}

func Permission(format string, args ...any) error {
	return errors.WithStack(&kindError{kind: ErrPermission, msg: fmt.Sprintf(format, args...)})
}

// Persistence marks err as a storage-layer failure. Nil in, nil out.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&kindError{kind: ErrPersistence, msg: msg, cause: err})
}

// Gateway marks err as a payment provider failure. Nil in, nil out.
func Gateway(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&kindError{kind: ErrGateway, msg: msg, cause: err})
}

// TransitionError reports a status edge outside the allowed set.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// KindOf classifies err into one of the error kinds. Unknown errors are
// reported as persistence failures.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrGateway):
		return "gateway"
	default:
		return "persistence"
	}
}
