package faults

import (
	"context"
	"errors"
	"fmt"
)

// AuthError indicates an invalid signature or an unknown configuration.
// Rejected synchronously at ingestion, never queued.
type AuthError struct {
	ConfigID string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized webhook for config %s: %s", e.ConfigID, e.Reason)
}

// ValidationError indicates a payload that cannot be mapped under the current
// configuration. Non-transient: the event is dead-lettered without consuming
// the retry budget.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid payload field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

// ConfigError indicates a missing or malformed tenant configuration.
// Non-transient: the event is dead-lettered and flagged for the operator.
type ConfigError struct {
	ConfigID string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration %s unusable: %v", e.ConfigID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TransientError indicates a timeout, an unreachable bus, or a downstream
// dependency failure. Retried with exponential backoff up to the retry budget.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError for the given operation.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsTransient reports whether err should be retried. Context deadline and
// cancellation errors count as transient: a per-event timeout returns the
// event to the retry queue.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
