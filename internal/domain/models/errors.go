package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProvider            = errors.New("ephemeris provider error")
	ErrProviderUnavailable = errors.New("ephemeris provider unavailable")
	ErrConfiguration       = errors.New("configuration error")
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
)

// ProviderError reports a lookup the ephemeris provider could not resolve.
type ProviderError struct {
	Op          string
	Body        Body
	Instant     time.Time
	Unavailable bool
	Err         error
}

func (e *ProviderError) Error() string {
	msg := "ephemeris " + e.Op
	if e.Body != "" {
		msg += " body=" + string(e.Body)
	}
	if !e.Instant.IsZero() {
		msg += " instant=" + e.Instant.Format(time.RFC3339)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	if target == ErrProvider {
		return true
	}
	return target == ErrProviderUnavailable && e.Unavailable
}

// ConfigurationError is raised before any computation starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewConfigurationError(field, format string, a ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

func NewValidationError(field, format string, a ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}
