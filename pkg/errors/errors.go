package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of error for handling
type ErrorCategory string

const (
	// CategoryData covers malformed input data handled fail-soft
	CategoryData ErrorCategory = "data"
	// CategoryNotFound covers references to entities that do not exist
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict covers concurrent-modification and duplicate-action rejections
	CategoryConflict ErrorCategory = "conflict"
	// CategoryInsufficientFunds covers escrow reservation failures
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	// CategoryPartialExecution covers settlement runs where some legs
	// committed before a failure triggered rollback
	CategoryPartialExecution ErrorCategory = "partial_execution"
	// CategoryInvalidState covers illegal state machine transitions
	CategoryInvalidState ErrorCategory = "invalid_state"
	// CategorySystem covers infrastructure failures (database, network)
	CategorySystem ErrorCategory = "system"
)

// ClearingError represents a reconciliation or settlement error with
// enough context for the caller to decide between retry and remediation
type ClearingError struct {
	Code        string
	Message     string
	Category    ErrorCategory
	IsRetriable bool
	Details     map[string]interface{}
}

func (e *ClearingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a new clearing error
func New(code, message string, category ErrorCategory, retriable bool) *ClearingError {
	return &ClearingError{
		Code:        code,
		Message:     message,
		Category:    category,
		IsRetriable: retriable,
		Details:     make(map[string]interface{}),
	}
}

// WithDetail attaches a key/value pair to the error and returns it
func (e *ClearingError) WithDetail(key string, value interface{}) *ClearingError {
	e.Details[key] = value
	return e
}

// CategoryOf extracts the category from an error chain.
// Non-clearing errors report CategorySystem.
func CategoryOf(err error) ErrorCategory {
	var ce *ClearingError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategorySystem
}

// IsConflict reports whether the error chain carries a conflict rejection
func IsConflict(err error) bool {
	return CategoryOf(err) == CategoryConflict
}

// IsNotFound reports whether the error chain carries a not-found error
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsInsufficientFunds reports whether the error chain carries an escrow
// reservation failure
func IsInsufficientFunds(err error) bool {
	return CategoryOf(err) == CategoryInsufficientFunds
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
