package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports caller-fixable input problems (bad address, missing content)
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// MalformedEventError reports a provider event missing required fields, or
// one that could not be decoded at all (Err set).
type MalformedEventError struct {
	Missing   string
	Timestamp string
	Err       error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %v", e.Err)
	}
	if e.Timestamp == "" {
		return fmt.Sprintf("malformed event: missing %s", e.Missing)
	}
	return fmt.Sprintf("malformed event at %s: missing %s", e.Timestamp, e.Missing)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// TransportError reports network failures, timeouts and non-2xx provider responses
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports missing or invalid required settings
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

// Required returns a ConfigurationError for a missing key
func Required(key string) *ConfigurationError {
	return &ConfigurationError{Key: key, Reason: "is required"}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsMalformedEvent(err error) bool {
	var target *MalformedEventError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
