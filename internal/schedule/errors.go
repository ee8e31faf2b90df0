package schedule

import "errors"

var (
	// ErrInvalidInterval is returned when the interval is not positive.
	ErrInvalidInterval = errors.New("schedule: interval must be positive")

	// ErrNoTask is returned when no task is configured.
	ErrNoTask = errors.New("schedule: task is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("schedule: already started")

	// ErrTaskPanicked wraps the value recovered from a panicking run.
	ErrTaskPanicked = errors.New("schedule: task panicked")
)
