package core

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound means the job id (or UPID owner) does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrUPIDNotFound means no job owns the presented UPID.
	ErrUPIDNotFound = errors.New("upid not found")

	// ErrUPIDUsed means the UPID's single-use flag was already flipped.
	// Kept distinct from not-found so a replay attempt is tellable from
	// a typo.
	ErrUPIDUsed = errors.New("upid already used")

	// ErrUPIDFormat means the code does not match the 4-letter 4-digit
	// pattern.
	ErrUPIDFormat = errors.New("invalid upid format")

	// ErrUPIDExhausted means generation failed to find a free code
	// within the attempt budget. Fatal for the request, never retried
	// silently.
	ErrUPIDExhausted = errors.New("upid generation exhausted")

	// ErrStaleUpdate means a conditional update found the job already
	// moved on. The caller's transition is dropped, not retried.
	ErrStaleUpdate = errors.New("job was updated concurrently")

	// ErrNotOwner means the caller does not own the job.
	ErrNotOwner = errors.New("job does not belong to caller")

	// ErrNotInQueue means the job holds no queue position.
	ErrNotInQueue = errors.New("job is not in the queue")

	// ErrDocumentInUse blocks a manual purge while any non-terminal job
	// still references the document.
	ErrDocumentInUse = errors.New("document is referenced by an active job")
)

// TransitionError names both the current state and the attempted event,
// so a rejected transition is never ambiguous in logs or API responses.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %q is not legal in state %q", e.Event, e.From)
}

func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
