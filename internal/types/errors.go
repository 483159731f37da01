// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrConflict     = errors.New("session already exists")
	ErrInvalidState = errors.New("invalid session state")
	ErrMissingData  = errors.New("missing session data")
)

// ConflictError reports that an issue already has a session. Session is
// the conflicting record when the reporter could load it.
type ConflictError struct {
	Key     IssueKey
	Session *Session
}

func (e *ConflictError) Error() string {
	if e.Session != nil {
		return fmt.Sprintf("session already exists for %s (status %s)", e.Key, e.Session.Status)
	}
	return fmt.Sprintf("session already exists for %s", e.Key)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NotFound wraps ErrNotFound with the missing id.
func NotFound(id SessionID) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
