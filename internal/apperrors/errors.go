package apperrors

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrInsufficientBalance indicates a debit larger than the node's ledger balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrDuplicateWithdrawal indicates the node already has a pending or processing withdrawal.
var ErrDuplicateWithdrawal = errors.New("a pending withdrawal already exists for this node")

// ErrDailyLimitExceeded indicates the package's daily withdrawal cap would be exceeded.
var ErrDailyLimitExceeded = errors.New("daily withdrawal limit exceeded")

// ErrInvalidTransition indicates an illegal withdrawal status transition.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrTreeIntegrity indicates corrupted tree state (cycle or dual-occupied slot).
// It is user-invisible: callers log it as a data-integrity alert.
var ErrTreeIntegrity = errors.New("tree integrity violation")

// ErrConflict indicates the operation conflicts with current resource state.
var ErrConflict = errors.New("operation conflicts with resource state")

// ErrForbidden indicates the caller is not allowed to perform the operation.
var ErrForbidden = errors.New("operation not allowed")

// ErrInternal indicates an unexpected internal failure.
var ErrInternal = errors.New("internal error")

// AppError wraps an underlying error with a status code and message, used at the
// storage boundary where failures are not part of the business taxonomy above.
type AppError struct {
	Code    int
	Message string
	Err     error
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

// NewAppError creates a new AppError.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewNotFoundError creates an AppError that unwraps to ErrNotFound.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: 404, Message: message, Err: ErrNotFound}
}
