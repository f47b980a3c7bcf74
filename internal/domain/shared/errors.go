// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
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
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Camera errors
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrNotSupported      = errors.New("camera capture not supported")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "camera", "score"
	Op      string // Operation that failed, e.g., "Resolve", "Acquire"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
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

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Kind == t.Kind
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of a template error carrying cause as its underlying error.
// The copy still matches the template under errors.Is.
func (e *DomainError) Wrap(cause error) *DomainError {
	c := *e
	c.Err = cause
	return &c
}

// Monitoring taxonomy. Every failure the orchestrator can surface maps to exactly one of these.
var (
	ErrSessionResolution = NewDomainError("session", "Resolve", ErrExternalService, "could not resolve monitoring session")
	ErrFrameDispatch     = NewDomainError("capture", "Dispatch", ErrExternalService, "frame dispatch failed")
	ErrFinalize          = NewDomainError("session", "Finalize", ErrExternalService, "could not finalize monitoring session")
	ErrScoreFetch        = NewDomainError("score", "Fetch", ErrExternalService, "could not fetch combined score")
	ErrRecommendation    = NewDomainError("recommendation", "Generate", ErrExternalService, "could not generate recommendation")
	ErrResourceFetch     = NewDomainError("resource", "Fetch", ErrExternalService, "could not load resource")

	ErrCameraPermission  = NewDomainError("camera", "Acquire", ErrPermissionDenied, "camera permission denied")
	ErrCameraUnavailable = NewDomainError("camera", "Acquire", ErrDeviceUnavailable, "no usable camera device")
	ErrCameraUnsupported = NewDomainError("camera", "Acquire", ErrNotSupported, "camera capture is not supported here")

	ErrMonitoringNotAllowed = NewDomainError("resource", "Monitor", ErrForbidden, "resource does not allow monitoring")
	ErrInvalidDuration      = NewDomainError("session", "Start", ErrValueOutOfRange, "monitoring duration must be positive")
	ErrIllegalTransition    = NewDomainError("viewer", "Transition", ErrStateTransition, "illegal viewer transition")
	ErrNoFaceDetected       = NewDomainError("capture", "Analyze", ErrInvalidInput, "no face detected in frame")
	ErrInvalidPayload       = NewDomainError("backend", "Decode", ErrInvalidFormat, "invalid response payload")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsCameraFailure reports whether err came from acquiring the camera.
func IsCameraFailure(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrNotSupported)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
