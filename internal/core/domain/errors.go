package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "MG-PAIR-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// ErrorCode extracts the error code from an error if it is a DomainError.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Pairing Errors (PAIR)
// ============================================================================

var (
	// ErrSecretTooShort indicates the announced pairing secret is below the minimum length.
	ErrSecretTooShort = NewDomainError("MG-PAIR-4001", "pairing secret too short")

	// ErrSecretUnknown indicates the submitted text matches no pending secret.
	ErrSecretUnknown = NewDomainError("MG-PAIR-4010", "secret not recognized")

	// ErrSecretInUse indicates the secret already belongs to an active pairing of another node.
	ErrSecretInUse = NewDomainError("MG-PAIR-4090", "secret already in use")

	// ErrPairingNotFound indicates no active pairing exists for the node.
	ErrPairingNotFound = NewDomainError("MG-PAIR-4040", "no pairing for node")
)

// ============================================================================
// Mesh Errors (MESH)
// ============================================================================

var (
	// ErrNotConnected indicates no live mesh session is available.
	ErrNotConnected = NewDomainError("MG-MESH-5030", "mesh device not connected")

	// ErrSendFailed indicates a mesh transmit failed on a live session.
	ErrSendFailed = NewDomainError("MG-MESH-5001", "mesh send failed")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an unexpected internal error.
	ErrInternal = NewDomainError("MG-SYS-5000", "internal error")

	// ErrStorage indicates a storage layer error.
	ErrStorage = NewDomainError("MG-SYS-5001", "storage error")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("MG-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("MG-ARG-1002", "missing required argument")
)
