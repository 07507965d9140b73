package diagnosis

import (
	"errors"
	"fmt"
)

// ErrSessionCompleted is returned when a step is requested on a session that
// has already run all eight stages.
var ErrSessionCompleted = errors.New("diagnosis session already completed")

// ErrNotFound is returned by session stores when no matching session exists
// (or the caller does not own it).
var ErrNotFound = errors.New("diagnosis session not found")

// ValidationError reports malformed or missing user input. Surfaced as a
// field-level message and never retried automatically.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// PreconditionError reports a missing prerequisite stage response. The step
// aborts without mutating the session.
type PreconditionError struct {
	Stage   StageID
	Missing StageID
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s response required before %s", e.Missing.Title(), e.Stage.Title())
}
