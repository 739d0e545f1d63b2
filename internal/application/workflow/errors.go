package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by StartNew when a non-terminal instance
	// with the same id exists.
	ErrAlreadyRunning = errors.New("workflow instance already running")
	// ErrInstanceNotFound is returned when no instance has the requested id
	ErrInstanceNotFound = errors.New("workflow instance not found")
	// ErrNotRunning is returned by Terminate on a terminal instance
	ErrNotRunning = errors.New("workflow instance is not running")
	// ErrUnknownWorkflow is returned for an unregistered workflow type
	ErrUnknownWorkflow = errors.New("unknown workflow type")
	// ErrUnknownActivity is returned for an unregistered activity name
	ErrUnknownActivity = errors.New("unknown activity")
	// ErrNondeterminism means the body issued calls that do not match the
	// recorded history. The instance is failed.
	ErrNondeterminism = errors.New("workflow body diverged from recorded history")
	// ErrRetriesExhausted is wrapped by ActivityError when the retry policy
	// ran out of attempts or time.
	ErrRetriesExhausted = errors.New("activity retries exhausted")
	// ErrActivityFailed is wrapped by ActivityError for single-attempt calls
	// and permanent errors.
	ErrActivityFailed = errors.New("activity failed")
	// ErrSuspended is returned to a body whose execution was interrupted by
	// engine shutdown or termination. Nothing is recorded for the
	// interrupted call and the body must return it unchanged.
	ErrSuspended = errors.New("workflow execution suspended")
	// ErrEngineNotStarted is returned by StartNew before Start
	ErrEngineNotStarted = errors.New("workflow engine not started")
)

// ActivityError is the failure of an activity call as seen by a workflow
// body. Replay rebuilds it from history, so only the message survives from
// the original error.
type ActivityError struct {
	Activity string
	Attempts int
	Message  string
	cause    error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed after %d attempt(s): %s", e.Activity, e.Attempts, e.Message)
}

func (e *ActivityError) Unwrap() error {
	return e.cause
}

func newActivityError(name string, attempts int, message string, exhausted bool) *ActivityError {
	cause := ErrActivityFailed
	if exhausted {
		cause = ErrRetriesExhausted
	}
	return &ActivityError{Activity: name, Attempts: attempts, Message: message, cause: cause}
}
