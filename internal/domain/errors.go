package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error categories. Every error returned by the service unwraps to exactly one of these.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrInternal    = errors.New("internal error")
)

var (
	ErrItemNotFound        = categorized(ErrNotFound, "item not found")
	ErrReservationNotFound = categorized(ErrNotFound, "reservation not found")
	ErrItemAlreadyReserved = categorized(ErrConflict, "item already reserved")
	ErrNotClaimant         = categorized(ErrForbidden, "not the claimant of this reservation")
	ErrAuthRequired        = categorized(ErrForbidden, "authentication required")
	ErrOwnerSelfClaim      = categorized(ErrForbidden, "owners cannot reserve their own items")
)

type categoryError struct {
	category error
	msg      string
}

func categorized(category error, msg string) error {
	return &categoryError{category: category, msg: msg}
}

func (e *categoryError) Error() string { return e.msg }
func (e *categoryError) Unwrap() error { return e.category }

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitExceededError is returned when the limiter denies a write.
type RateLimitExceededError struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitExceededError) Unwrap() error { return ErrRateLimited }

// InternalError wraps an unexpected store or transport failure.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is lets callers match both the category and the wrapped cause.
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

func (e *InternalError) Unwrap() error { return e.Err }

// IsExpected reports whether err belongs to one of the typed outcomes callers handle.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrRateLimited)
}
