package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
)

// Message lifecycle error codes
const (
	ErrValidation ErrorCode = iota + 2000
	ErrInvalidSchedule
	ErrUnauthorizedOperation
	ErrConcurrentModification
	ErrAlreadyClaimed
	ErrPermanentDelivery
	ErrRetryableDelivery
	ErrPersistence
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Validation signals bad input on a domain operation. Never retried.
func Validation(message string) *AppError {
	return &AppError{Code: ErrValidation, Message: message}
}

// InvalidSchedule signals a scheduledAt that is not strictly in the future.
func InvalidSchedule(message string) *AppError {
	return &AppError{Code: ErrInvalidSchedule, Message: message}
}

// UnauthorizedOperation signals a mutating aggregate operation without an actor.
func UnauthorizedOperation(operation string) *AppError {
	return &AppError{
		Code:    ErrUnauthorizedOperation,
		Message: fmt.Sprintf("operation %s requires an actor", operation),
	}
}

// ConcurrentModification signals a lost optimistic-concurrency race on an
// event stream. Callers reload and retry; it never surfaces as a business failure.
func ConcurrentModification(stream string, err error) *AppError {
	return &AppError{
		Code:    ErrConcurrentModification,
		Message: fmt.Sprintf("stream %s was modified concurrently", stream),
		Err:     err,
	}
}

// AlreadyClaimed signals that another consumer owns a ledger entry. Expected
// race outcome, absorbed silently.
func AlreadyClaimed(stream string, revision uint64) *AppError {
	return &AppError{
		Code:    ErrAlreadyClaimed,
		Message: fmt.Sprintf("event %s@%d already claimed", stream, revision),
	}
}

// PermanentDelivery wraps a transport failure that must never be retried.
func PermanentDelivery(reason string, err error) *AppError {
	return &AppError{Code: ErrPermanentDelivery, Message: reason, Err: err}
}

// RetryableDelivery wraps a transport failure eligible for re-scheduling.
func RetryableDelivery(reason string, err error) *AppError {
	return &AppError{Code: ErrRetryableDelivery, Message: reason, Err: err}
}

// Persistence signals an unrecoverable storage failure. Propagated to alerting.
func Persistence(err error) *AppError {
	return &AppError{Code: ErrPersistence, Message: "persistence failure", Err: err}
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool               { return IsCode(err, ErrNotFound) }
func IsConcurrentModification(err error) bool { return IsCode(err, ErrConcurrentModification) }
func IsAlreadyClaimed(err error) bool         { return IsCode(err, ErrAlreadyClaimed) }
func IsInvalidSchedule(err error) bool        { return IsCode(err, ErrInvalidSchedule) }
func IsUnauthorizedOperation(err error) bool  { return IsCode(err, ErrUnauthorizedOperation) }
func IsPersistence(err error) bool            { return IsCode(err, ErrPersistence) }
