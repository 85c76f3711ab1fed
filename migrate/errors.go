package migrate

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a malformed unit or descriptor. It is always
// raised before any source query runs.
type ConfigurationError struct {
	Unit   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Unit == "" {
		return "improperly configured: " + e.Reason
	}
	return fmt.Sprintf("improperly configured: %s: %s", e.Unit, e.Reason)
}

func configErrorf(unit, format string, args ...any) error {
	return &ConfigurationError{Unit: unit, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a related record that could not be resolved.
type NotFoundError struct {
	Unit   string
	Column string
	Model  string
	Attr   string
	Value  any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: column %q: no %s with %s=%v", e.Unit, e.Column, e.Model, e.Attr, e.Value)
}

// Is enables errors.Is(err, ErrNotFound).
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel for missing related records.
var ErrNotFound = &NotFoundError{}

// PersistenceError wraps a failure of the target store.
type PersistenceError struct {
	Unit string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: failed to %s: %v", e.Unit, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransactionError is returned by Migrator.Run when a run was rolled back
// because of an unhandled error.
type TransactionError struct {
	Unit string
	Err  error
}

func (e *TransactionError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("migration rolled back: %v", e.Err)
	}
	return fmt.Sprintf("migration rolled back in %s: %v", e.Unit, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
