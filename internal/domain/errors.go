package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job does not exist or belongs to another user
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidArgument is returned when enqueue input is incomplete
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTransition is returned when a guarded status update finds the
	// job outside the expected state (reclaimed, or already terminal)
	ErrInvalidTransition = errors.New("job not in expected status")
)

// Processing stages reported by JobError
const (
	StageFetch      = "fetch"
	StageTranscribe = "transcribe"
)

// JobError is a job-level failure. It counts against the job's attempts
// and never escapes a batch.
type JobError struct {
	JobID string
	Stage string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError creates a new stage-tagged job error
func NewJobError(jobID, stage string, err error) error {
	return &JobError{JobID: jobID, Stage: stage, Err: err}
}
