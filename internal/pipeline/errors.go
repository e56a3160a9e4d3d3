package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ConfigurationError signals that a pipeline could not be constructed.
// It is fatal at startup.
type ConfigurationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	msg := "invalid pipeline configuration"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrConfiguration constructs a ConfigurationError for field.
func ErrConfiguration(field, msg string) error {
	return &ConfigurationError{Field: field, Msg: msg}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// BackendError signals that the backend was unreachable, returned malformed
// output, or failed while generating.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	cause := "unknown failure"
	if e.Err != nil {
		cause = e.Err.Error()
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		cause = "backend did not respond in time"
	}
	return fmt.Sprintf("backend %s: %s: %s", e.Backend, e.Op, cause)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsBackendError reports whether err is (or wraps) a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// ErrMalformedOutput is wrapped by backends that received output they could not decode.
var ErrMalformedOutput = errors.New("malformed backend output")

func backendErr(backend, op string, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}
