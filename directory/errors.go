package directory

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a resource the directory reports as absent (HTTP 404).
var ErrNotFound = errors.New("directory: not found")

// APIError is a non-2xx response from the directory API.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("directory http %d: %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("directory http %d: %s: %s", e.StatusCode, e.URL, e.Body)
}

// Unwrap lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 404 {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err represents an expected absence.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func retryable(status int) bool {
	return status == 429 || status >= 500
}
