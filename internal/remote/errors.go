package remote

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("remote: path not found")
	ErrIncorrectOffset = errors.New("remote: incorrect upload session offset")
	ErrCursorReset     = errors.New("remote: listing cursor reset")
	ErrUnknownSession  = errors.New("remote: unknown upload session")
	ErrNoToken         = errors.New("remote: access token missing")
	ErrNoBucket        = errors.New("remote: bucket missing")
	ErrUnknownBackend  = errors.New("remote: unknown backend")
)

// APIError is a store response that does not map onto a sentinel error.
type APIError struct {
	Op      string
	Status  int
	Summary string
}

func (e *APIError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("remote: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote: %s: status %d: %s", e.Op, e.Status, e.Summary)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}
