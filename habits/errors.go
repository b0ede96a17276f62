package habits

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingUserID is returned when no identity claim accompanies a request.
// The identity provider is an external collaborator; the workflow only
// defends against its absence.
var ErrMissingUserID = errors.New("user ID is required")

// ErrHabitNotFound is returned when the referenced habit does not exist or
// does not belong to the calling user.
var ErrHabitNotFound = errors.New("habit not found")

// ErrHabitInactive is returned when completing a habit whose is_active flag
// has been switched off.
var ErrHabitInactive = errors.New("cannot complete an inactive habit")

// ValidationError reports malformed or missing input. It is user-correctable
// and surfaced with an explicit reason.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// DuplicateCompletionError is returned when a habit has already been
// completed on the current calendar day. CompletedAt carries the timestamp of
// the existing completion so clients can display it.
type DuplicateCompletionError struct {
	CompletedAt time.Time
}

func (e *DuplicateCompletionError) Error() string {
	return "habit already completed today"
}

// StorageError wraps a failure of the underlying store (timeout, throttling,
// connectivity) so it stays distinct from domain errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
