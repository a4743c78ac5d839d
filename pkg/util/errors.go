// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the fabric. Handlers map these onto
// HTTP status codes; internal callers match with errors.Is.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrValidationFailed = errors.New("validation failed")
	ErrUpstreamTimeout  = errors.New("upstream did not respond in time")
	ErrUpstreamRejected = errors.New("upstream rejected the request")
	ErrDependencyDown   = errors.New("required dependency unavailable")
	ErrNotConnected     = errors.New("not connected")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err wraps ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// NotFoundError identifies the missing resource by kind and key.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a not-found error for a resource
func NewNotFoundError(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// ConflictError represents a uniqueness violation
type ConflictError struct {
	Kind   string
	Key    string
	Detail string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s '%s' already exists", e.Kind, e.Key)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ConflictError) Unwrap() error {
	return ErrAlreadyExists
}

// NewConflictError creates a conflict error for a resource
func NewConflictError(kind, key, detail string) *ConflictError {
	return &ConflictError{Kind: kind, Key: key, Detail: detail}
}

// RejectionError carries the producer's stated reason for declining a
// stream request.
type RejectionError struct {
	StreamID string
	Reason   string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stream %s rejected the request", e.StreamID)
	}
	return fmt.Sprintf("stream %s rejected the request: %s", e.StreamID, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return ErrUpstreamRejected
}

// NewRejectionError creates a rejection error for a stream request
func NewRejectionError(streamID, reason string) *RejectionError {
	return &RejectionError{StreamID: streamID, Reason: reason}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// DependencyError reports an unreachable backing service (Redis, NATS,
// Postgres) by name.
type DependencyError struct {
	Service string
	Cause   error
}

func (e *DependencyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Service, e.Cause)
	}
	return e.Service + " unavailable"
}

func (e *DependencyError) Unwrap() error {
	return ErrDependencyDown
}

// NewDependencyError creates a dependency error
func NewDependencyError(service string, cause error) *DependencyError {
	return &DependencyError{Service: service, Cause: cause}
}
