// Package shared contains the error taxonomy, domain events and value objects
// used across the achievement engine's domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "achievement", "investment"
	Op      string // operation that failed, e.g. "Award", "Delete"
	Kind    error  // base error for errors.Is() checking
	Message string
	Err     error // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches against the Kind as well as the wrapped error.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok && e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message {
		return true
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Achievement domain errors
var (
	ErrAchievementNotFound  = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrAchievementNotManual = NewDomainError("achievement", "Award", ErrInvalidState, "achievement is not manually awardable")
	ErrAchievementInUse     = NewDomainError("achievement", "Delete", ErrConflict, "achievement is referenced by unlocks")
	ErrInvalidTrigger       = NewDomainError("achievement", "Validate", ErrValidation, "invalid trigger config")
	ErrInvalidAchievement   = NewDomainError("achievement", "Validate", ErrValidation, "invalid achievement definition")
	ErrUnlockNotFound       = NewDomainError("achievement", "FindUnlock", ErrNotFound, "unlock not found")
	ErrRevocationNotFound   = NewDomainError("achievement", "FindRevocation", ErrNotFound, "revocation not found")
)

// ErrInvalidStudentID rejects student identifiers that are not UUIDs.
var ErrInvalidStudentID = NewDomainError("student", "Validate", ErrInvalidID, "invalid student ID")

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the error is a conflict or invalid-state error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput)
}

// IsAuth checks if the error is an authentication or authorization failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
