// Package errors provides custom error types for the chronomap system.
// These errors enable programmatic error checking and make the
// fatal/recoverable split of the merge engine explicit: configuration
// and output errors abort a run, everything else is skipped and counted.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the chronomap system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSourceUnavailable indicates a source is disabled or its file is missing
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidGeometry indicates a feature carries degenerate or unparseable geometry
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrNoSources indicates that no enabled source could be loaded
	ErrNoSources = errors.New("no loadable sources")
)

// ConfigError represents a configuration error. Always fatal: a run
// aborts before any processing when one is returned.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// SourceError represents a per-source failure (missing file, bad
// collection). Recoverable: the source is skipped and the run continues.
type SourceError struct {
	SourceID string
	Path     string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *SourceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("source %s (%s): %s", e.SourceID, e.Path, e.Message)
	}
	return fmt.Sprintf("source %s: %s", e.SourceID, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// NewSourceError creates a new SourceError
func NewSourceError(sourceID, path, message string, err error) *SourceError {
	return &SourceError{
		SourceID: sourceID,
		Path:     path,
		Message:  message,
		Err:      err,
	}
}

// GeometryError represents a per-feature geometry failure. Recoverable:
// the feature is excluded from indexing and matching and counted in the
// quality report.
type GeometryError struct {
	SourceID  string
	FeatureID string
	Message   string
}

// Error implements the error interface
func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid geometry on %s/%s: %s", e.SourceID, e.FeatureID, e.Message)
}

// Is implements errors.Is support
func (e *GeometryError) Is(target error) bool {
	return target == ErrInvalidGeometry
}

// NewGeometryError creates a new GeometryError
func NewGeometryError(sourceID, featureID, message string) *GeometryError {
	return &GeometryError{
		SourceID:  sourceID,
		FeatureID: featureID,
		Message:   message,
	}
}

// EvidenceError represents a failure in the evidence store
type EvidenceError struct {
	Operation string // "upsert", "lookup", "estimate"
	EntityID  string
	Err       error
}

// Error implements the error interface
func (e *EvidenceError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("evidence %s for entity %s: %v", e.Operation, e.EntityID, e.Err)
	}
	return fmt.Sprintf("evidence %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *EvidenceError) Unwrap() error {
	return e.Err
}

// NewEvidenceError creates a new EvidenceError
func NewEvidenceError(operation, entityID string, err error) *EvidenceError {
	return &EvidenceError{
		Operation: operation,
		EntityID:  entityID,
		Err:       err,
	}
}

// WriteError represents a failure writing an output artifact. Fatal:
// reported to the caller, and the primary merged file is never left
// partially written.
type WriteError struct {
	Path string
	Err  error
}

// Error implements the error interface
func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewWriteError creates a new WriteError
func NewWriteError(path string, err error) *WriteError {
	return &WriteError{Path: path, Err: err}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "create", "open"
	Path      string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("IO error during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	return &IOError{Operation: operation, Path: path, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSourceUnavailable checks if an error indicates a skippable source
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsInvalidGeometry checks if an error is a per-feature geometry failure
func IsInvalidGeometry(err error) bool {
	return errors.Is(err, ErrInvalidGeometry)
}

// IsFatal reports whether an error must abort the run. Only
// configuration and output-write failures qualify; everything else is
// isolated per feature or per source.
func IsFatal(err error) bool {
	var cfg *ConfigError
	var write *WriteError
	return errors.As(err, &cfg) || errors.As(err, &write) || errors.Is(err, ErrNoSources)
}

// Helper wrapping functions for common patterns

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapWrite wraps an error as a WriteError
func WrapWrite(path string, err error) error {
	if err == nil {
		return nil
	}
	return NewWriteError(path, err)
}
