package job

import "errors"

var (
	// ErrJobNotFound is returned when a job id resolves to no persisted record.
	ErrJobNotFound = errors.New("job not found")

	// ErrValidation is returned for malformed create or callback input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when deleting a job that is still processing.
	ErrConflict = errors.New("job is processing")

	// ErrPersistence wraps store failures. The triggering operation did not
	// advance in-memory state and nothing was broadcast.
	ErrPersistence = errors.New("persistence failed")

	// ErrActorStopped is returned for operations on a deleted job's actor.
	ErrActorStopped = errors.New("job actor stopped")
)
