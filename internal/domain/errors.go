package domain

import (
	"errors"
	"fmt"
)

// ErrNoBackend is returned when no backend is configured for dispatch.
var ErrNoBackend = errors.New("no backend configured")

// ConfigurationError reports a missing or invalid setting. Callers degrade
// the affected capability instead of failing the turn.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

type BackendErrorKind string

const (
	BackendTimeout BackendErrorKind = "timeout"
	BackendHTTP    BackendErrorKind = "http"
	BackendNetwork BackendErrorKind = "network"
)

// BackendError is a transport failure talking to one backend.
type BackendError struct {
	Backend    string
	Kind       BackendErrorKind
	StatusCode int    // set for Kind == BackendHTTP
	Body       string // truncated response body, for logs
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.Kind == BackendHTTP:
		return fmt.Sprintf("%s: http %d: %s", e.Backend, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// NormalizationError means a backend answered with a body that could not be
// parsed. Dispatch treats it like a BackendError.
type NormalizationError struct {
	Backend string
	Err     error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Backend, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }
