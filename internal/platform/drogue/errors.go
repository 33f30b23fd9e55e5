package drogue

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when the application or device does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an update lost an optimistic concurrency race.
	ErrConflict = errors.New("conflict")
	// ErrRequest is returned when the registry could not be reached or
	// answered with an unexpected status.
	ErrRequest = errors.New("registry request failed")
)

// StatusError is a non-2xx answer from the registry.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: registry returned status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: registry returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is maps the status code onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrRequest:
		return e.StatusCode != http.StatusNotFound && e.StatusCode != http.StatusConflict
	}
	return false
}

// IsNotFound checks if an error indicates a device was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error indicates a stale update.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// result classifies an error for metrics labels.
func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
