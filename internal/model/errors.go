package model

import (
	"errors"
	"fmt"
)

// ErrKind classifies every error the ledger surfaces to callers.
// Only KindStorage is eligible for automatic retry.
type ErrKind uint8

const (
	KindInternal ErrKind = iota
	KindValidation
	KindInvalidState
	KindNotFound
	KindStorage
)

func (k ErrKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage_failure"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is. *Error unwraps to the sentinel of its kind.
var (
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage failure")
)

// Error carries a kind, a human message safe for clients, and the wrapped cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error { return e.Err }

func (k ErrKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindInvalidState:
		return ErrInvalidState
	case KindNotFound:
		return ErrNotFound
	case KindStorage:
		return ErrStorage
	default:
		return nil
	}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure. msg is what the client sees; err is logged.
func Storage(msg string, err error) error {
	return &Error{Kind: KindStorage, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
