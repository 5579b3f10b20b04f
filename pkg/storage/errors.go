package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies storage failures.
type ErrorKind int

const (
	// KindStorage is the generic, catch-all kind.
	KindStorage ErrorKind = iota
	// KindConfiguration is bad or missing configuration at construction.
	KindConfiguration
	// KindConnection is a backend that is unreachable or failed its health check.
	KindConnection
	// KindNotFound is a referenced id absent on an operation requiring existence.
	KindNotFound
	// KindValidation is a malformed record, filter or query.
	KindValidation
	// KindTimeout is a lock or call that exceeded its budget.
	KindTimeout
	// KindCapacity is a write rejected by admission control.
	KindCapacity
	// KindTransaction is a multi-operation batch that failed and was rolled back.
	KindTransaction
)

// String returns the kind name used in error messages and logs.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	case KindCapacity:
		return "capacity"
	case KindTransaction:
		return "transaction"
	default:
		return "storage"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrStorage       = &Error{Kind: KindStorage}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrConnection    = &Error{Kind: KindConnection}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrCapacity      = &Error{Kind: KindCapacity}
	ErrTransaction   = &Error{Kind: KindTransaction}
)

// Error is the single error type returned by every storage operation.
type Error struct {
	Kind    ErrorKind // Failure classification
	Backend string    // Backend type ("memory", "file", "sqlite")
	Op      string    // Operation that failed ("save", "load", ...)
	ID      string    // Record id, when the failure concerns one record
	Message string    // Human-readable detail
	Cause   error     // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")

	var attrs []string
	if e.Backend != "" {
		attrs = append(attrs, "backend="+e.Backend)
	}
	if e.Op != "" {
		attrs = append(attrs, "operation="+e.Op)
	}
	if e.ID != "" {
		attrs = append(attrs, "id="+e.ID)
	}
	if len(attrs) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(attrs, ", "))
		sb.WriteString("]")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
// This lets callers write errors.Is(err, storage.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, backend, op, id, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Backend: backend,
		Op:      op,
		ID:      id,
		Message: message,
		Cause:   cause,
	}
}

// NewStorageError creates a generic storage error wrapping cause.
func NewStorageError(backend, op string, cause error) *Error {
	return newError(KindStorage, backend, op, "", "", cause)
}

// NewConfigurationError creates a configuration error for the given field.
func NewConfigurationError(backend, field, message string) *Error {
	if field != "" {
		message = fmt.Sprintf("%s: %s", field, message)
	}
	return newError(KindConfiguration, backend, "configure", "", message, nil)
}

// NewConnectionError creates a connection error.
func NewConnectionError(backend, op string, cause error) *Error {
	return newError(KindConnection, backend, op, "", "", cause)
}

// NewNotFoundError creates a not-found error for id.
func NewNotFoundError(backend, op, id string) *Error {
	return newError(KindNotFound, backend, op, id, "record not found", nil)
}

// NewValidationError creates a validation error.
func NewValidationError(backend, op, message string) *Error {
	return newError(KindValidation, backend, op, "", message, nil)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(backend, op, id string, cause error) *Error {
	return newError(KindTimeout, backend, op, id, "operation exceeded its time budget", cause)
}

// NewCapacityError creates an admission-control error.
func NewCapacityError(backend, id, message string) *Error {
	return newError(KindCapacity, backend, "save", id, message, nil)
}

// NewTransactionError creates a transaction error. The batch has been rolled back.
func NewTransactionError(backend string, index int, cause error) *Error {
	return newError(KindTransaction, backend, "transaction", "",
		fmt.Sprintf("operation %d failed, transaction rolled back", index), cause)
}

// Wrap classifies err into the taxonomy. Errors that already carry a kind
// are returned unchanged; context deadline errors become timeouts and
// everything else becomes a generic storage error.
func Wrap(backend, op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(backend, op, id, err)
	}
	return newError(KindStorage, backend, op, id, "", err)
}

// KindOf returns the kind of err, or KindStorage for foreign errors.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStorage
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
