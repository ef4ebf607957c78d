package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when input validation fails. Never retried.
	ErrValidation = errors.New("invalid input")
	// ErrOwnership is returned when a document does not exist for the calling user.
	// Never retried and never accompanied by writes.
	ErrOwnership = errors.New("document not found for user")
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrExternal is returned when an external service call fails or times out.
	ErrExternal = errors.New("external service error")
	// ErrCorruption is returned when persisted chunk data violates its invariants.
	ErrCorruption = errors.New("data corruption detected")
)

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Ownership reports that documentID is not owned by userID.
func Ownership(documentID, userID string) error {
	return fmt.Errorf("%w: document %s, user %s", ErrOwnership, documentID, userID)
}

// External marks err as a failure of the named external operation.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrExternal, err)
}

// IsRetryable reports whether err is a transient external failure.
// Validation and ownership errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrOwnership) {
		return false
	}
	return errors.Is(err, ErrExternal)
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
