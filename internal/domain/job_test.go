package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, true},
		{StatusCompleted, StatusQueued, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestJobError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewJobError("job-1", StageTranscribe, cause)

	assert.Equal(t, "transcribe: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	var jobErr *JobError
	assert.True(t, errors.As(err, &jobErr))
	assert.Equal(t, "job-1", jobErr.JobID)
	assert.Equal(t, StageTranscribe, jobErr.Stage)
}
