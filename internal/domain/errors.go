package domain

import "fmt"

// Error types for consistent error handling across the service. There
// is deliberately no not-found type: a missing record id on update or
// delete is a silent no-op, never an error.

// ErrValidation indicates a validation error (bad input). Validation
// failures are rejected at the mutation boundary before touching storage.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrExternalService indicates a failure talking to the remote store.
// These never surface to mutation callers; they only downgrade the
// connectivity status.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrImport indicates a rejected bulk import (malformed JSON backup or an
// unreadable spreadsheet). The message is user-facing.
type ErrImport struct {
	Reason string
}

func (e *ErrImport) Error() string {
	return e.Reason
}
