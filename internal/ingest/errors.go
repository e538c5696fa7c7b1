package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrRobotsDisallowed is returned when the robots policy forbids a URL.
	ErrRobotsDisallowed = errors.New("disallowed by robots policy")
	// ErrFetchExhausted is returned once every retry attempt failed.
	ErrFetchExhausted = errors.New("fetch retries exhausted")
)

// FetchError describes a failed request. Transient failures are retried by
// the fetch layer.
type FetchError struct {
	URL       string
	Status    int
	Attempts  int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status > 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status > 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// ParseError wraps a failure to decode a fetched payload.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.What, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// ListError wraps a failure while enumerating a source.
type ListError struct {
	Source string
	Err    error
}

func (e *ListError) Error() string { return fmt.Sprintf("list %s: %v", e.Source, e.Err) }

func (e *ListError) Unwrap() error { return e.Err }

// ConfigError is fatal and aborts a run before any network activity.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }
