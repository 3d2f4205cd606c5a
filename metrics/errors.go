package metrics

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned when a metric definition has an invalid
	// type, metric name or label name.
	ErrInvalidConfiguration = errors.New("invalid metric configuration")

	// ErrInvalidCollectorType is returned when a collector type is neither
	// "counter" nor "gauge".
	ErrInvalidCollectorType = errors.New("invalid collector type")

	// ErrUnknownCollector is returned by a storage when an update targets a
	// collector that was never registered with it.
	ErrUnknownCollector = errors.New("unknown collector")

	// ErrInvalidArgument is returned for negative counter increments, NaN values
	// and malformed label sets.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConnectionFailure is returned by remote storages when the backend
	// cannot be reached or rejects the connection.
	ErrConnectionFailure = errors.New("storage connection failure")

	ErrCollectorNotFound     = errors.New("collector not found")
	ErrCollectorTypeMismatch = errors.New("collector registered with a different type")

	// ErrAccessDenied is used by the HTTP exporter for failed basic authentication.
	ErrAccessDenied = errors.New("access denied")
)

// ConfigurationError describes a rejected metric definition.
type ConfigurationError struct {
	Name   string
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("failed creating configuration, %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("failed creating configuration for %s, %s %q: %s", e.Name, e.Field, e.Value, e.Reason)
}

// Unwrap makes the error match ErrInvalidConfiguration and, for a bad type,
// ErrInvalidCollectorType.
func (e *ConfigurationError) Unwrap() []error {
	if e.Field == "type" {
		return []error{ErrInvalidConfiguration, ErrInvalidCollectorType}
	}
	return []error{ErrInvalidConfiguration}
}

// UnknownCollectorError is returned when a storage has no value table for a
// collector identifier.
type UnknownCollectorError struct {
	Type       MetricType
	Name       string
	Identifier string
}

func (e *UnknownCollectorError) Error() string {
	return fmt.Sprintf("failed updating unknown %s %s (%s)", e.Type, e.Name, e.Identifier)
}

func (e *UnknownCollectorError) Unwrap() error { return ErrUnknownCollector }

// ConnectionError wraps a failure talking to a remote storage.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrConnectionFailure, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrConnectionFailure, e.Err} }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
