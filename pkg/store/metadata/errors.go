package metadata

import (
	"errors"
	"fmt"
)

// StoreError represents a domain error raised by the tree engine or a store.
//
// These are business logic errors (entity not found, name taken, quota
// exceeded) as opposed to infrastructure errors. Callers at the API boundary
// translate the Code into a structured response. ErrFatalStorage is the one
// exception: it signals that metadata and physical state may have diverged
// and must reach an operator.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the logical or physical path related to the error (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = msg + ": " + e.Path
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a StoreError.
type ErrorCode int

const (
	// ErrNotFound indicates the entity, recycle entry, share link or account
	// does not exist or is filtered out by ownership / soft-delete scoping
	ErrNotFound ErrorCode = iota

	// ErrPermissionViolation indicates an attempt to delete, rename or move a
	// user root
	ErrPermissionViolation

	// ErrNameCollision indicates the target name is already used by a live
	// sibling or the physical path is already occupied
	ErrNameCollision

	// ErrQuotaExceeded indicates the pending size delta would exceed the
	// effective storage limit
	ErrQuotaExceeded

	// ErrGone indicates a share link that exists but expired or whose target
	// was deleted
	ErrGone

	// ErrFatalStorage indicates a physical operation failed inside, or could
	// not be made atomic with, a metadata transaction
	ErrFatalStorage

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty name, move into own subtree
	ErrInvalidArgument

	// ErrNotDirectory indicates an operation expected a folder but got a file
	ErrNotDirectory

	// ErrAlreadyExists indicates a non-entity record (account, share key)
	// already exists
	ErrAlreadyExists

	// ErrThrottled indicates the caller exceeded a rate limit
	ErrThrottled

	// ErrConflict indicates concurrent writers kept invalidating the
	// transaction until the store gave up retrying. Safe to retry.
	ErrConflict
)

// String returns a stable lowercase name used in logs and metric labels.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not_found"
	case ErrPermissionViolation:
		return "permission_violation"
	case ErrNameCollision:
		return "name_collision"
	case ErrQuotaExceeded:
		return "quota_exceeded"
	case ErrGone:
		return "gone"
	case ErrFatalStorage:
		return "fatal_storage"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrNotDirectory:
		return "not_directory"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrThrottled:
		return "throttled"
	case ErrConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// NewError builds a StoreError without an underlying cause.
func NewError(code ErrorCode, message, path string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// NewFatal wraps a physical storage failure.
func NewFatal(op string, path string, err error) *StoreError {
	return &StoreError{
		Code:    ErrFatalStorage,
		Message: fmt.Sprintf("%s: storage fault", op),
		Path:    path,
		Err:     err,
	}
}

// IsCode reports whether err is (or wraps) a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// CodeOf returns the code of a wrapped StoreError, or false for foreign errors.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
