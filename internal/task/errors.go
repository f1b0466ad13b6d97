package task

import "errors"

// Errors returned by the registry and the runner
var (
	// ErrTaskNotFound is returned when no record exists for the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when an update would move a record
	// along an edge the state machine does not allow or would break a record
	// invariant. The record is left untouched.
	ErrInvalidTransition = errors.New("invalid task transition")

	// ErrProducerFailure wraps any error or panic raised while producing notes.
	ErrProducerFailure = errors.New("producer failed")

	// ErrQueueFull is returned by Submit when no queue slot is available.
	ErrQueueFull = errors.New("task queue is full")

	// ErrRunnerStopped is returned by Submit after Stop has been called.
	ErrRunnerStopped = errors.New("task runner is stopped")

	// ErrCancelled is the diagnostic recorded for a cancelled task.
	ErrCancelled = errors.New("generation cancelled")

	// ErrInterruptedByShutdown is recorded for tasks still pending when the
	// runner stops.
	ErrInterruptedByShutdown = errors.New("generation interrupted by shutdown")

	// ErrInterruptedByRestart is recorded for journaled tasks that were not
	// terminal when the previous process exited.
	ErrInterruptedByRestart = errors.New("generation interrupted by service restart")
)
