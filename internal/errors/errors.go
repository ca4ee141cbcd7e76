// Package errors provides a lightweight structured error type (PolybuildError)
// for category-based classification of build failures in the driver and CLI.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a polybuild error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig ErrorCategory = "config"

	// Per-revision pipeline errors
	CategoryCheckout  ErrorCategory = "checkout"
	CategoryProvision ErrorCategory = "provision"
	CategoryBuild     ErrorCategory = "build"

	// Root-level rendering errors
	CategoryRender ErrorCategory = "render"

	// Runtime and infrastructure errors
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the whole run
	SeverityError   ErrorSeverity = "error"   // Fails one pipeline, run continues
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// PolybuildError is a structured error with category, severity and context
type PolybuildError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PolybuildError
type ContextFields map[string]any

// Error implements the error interface
func (e *PolybuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PolybuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PolybuildError) WithContext(key string, value any) *PolybuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PolybuildError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PolybuildError {
	return &PolybuildError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new PolybuildError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PolybuildError {
	return &PolybuildError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// ConfigError creates a fatal configuration error
func ConfigError(message string) *PolybuildError {
	return New(CategoryConfig, SeverityFatal, message)
}

// RenderError wraps a root rendering failure (fatal to the overall run)
func RenderError(err error, message string) *PolybuildError {
	return Wrap(err, CategoryRender, SeverityFatal, message)
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	var pe *PolybuildError
	if errors.As(err, &pe) {
		return pe.Category == category
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal
// if it is not a PolybuildError
func GetCategory(err error) ErrorCategory {
	var pe *PolybuildError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryInternal
}

// IsFatal reports whether an error should abort the whole run rather than a
// single revision's pipeline.
func IsFatal(err error) bool {
	var pe *PolybuildError
	if errors.As(err, &pe) {
		return pe.Severity == SeverityFatal
	}
	return false
}
