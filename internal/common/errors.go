// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Conflict errors: a uniqueness rule blocked the operation.
	ErrAlreadyProcessed = errors.New("billing period already processed")
	ErrAlreadyMatched   = errors.New("session already matched")
	ErrEventProcessed   = errors.New("transaction already processed")

	// Precondition errors.
	ErrPeriodNotFound    = errors.New("billing period not found")
	ErrPeriodVoided      = errors.New("billing period is void")
	ErrBillingNotStarted = fmt.Errorf("%w: patient billing has not started for this month", ErrNotFound)

	// Provider errors.
	ErrProviderFailure = errors.New("provider request failed")
	ErrPlaidRateLimit  = errors.New("plaid rate limit exceeded")
	ErrInvalidAccount  = errors.New("invalid account")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsConflict reports whether err is a definite uniqueness outcome that must not be retried.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrAlreadyMatched) ||
		errors.Is(err, ErrEventProcessed) ||
		errors.Is(err, ErrDuplicateEntry)
}

// IsPrecondition reports whether err is a caller error.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrPeriodVoided)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrPlaidRateLimit) ||
		errors.Is(err, ErrProviderFailure) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
