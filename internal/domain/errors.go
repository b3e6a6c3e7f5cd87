package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Aggregate Errors
	// ===========================================

	// ErrInvalidState indicates an operation was invoked against an aggregate
	// in a state that does not allow it (e.g. setting an initial password twice,
	// updating a property that does not exist). These are integration errors,
	// not user input errors.
	ErrInvalidState = errors.New("invalid state")

	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same username exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidUserStatus indicates an unknown user status name.
	ErrInvalidUserStatus = errors.New("invalid user status")

	// ===========================================
	// Role Errors
	// ===========================================

	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleAlreadyExists indicates a role with the same name exists.
	ErrRoleAlreadyExists = errors.New("role already exists")

	// ===========================================
	// Group Errors
	// ===========================================

	// ErrGroupNotFound indicates the requested group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrGroupAlreadyExists indicates a group with the same name exists.
	ErrGroupAlreadyExists = errors.New("group already exists")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., username, property name).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
