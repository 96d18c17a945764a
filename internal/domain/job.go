package domain

import "time"

// Status is the lifecycle state of a transcription job
type Status string

// Job status constants
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether the state machine allows s -> to
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusQueued
	default:
		return false
	}
}

// Job is one audio file to transcribe, persisted in transcription_jobs.
// Result is set only when Status is completed; LastError only after a
// failed attempt.
type Job struct {
	ID          string     `db:"job_id"`
	AudioKey    string     `db:"audio_key"`
	UserID      string     `db:"user_id"`
	Status      Status     `db:"status"`
	Attempts    int        `db:"attempts"`
	Result      *string    `db:"result"`
	LastError   *string    `db:"last_error"`
	AvailableAt time.Time  `db:"available_at"`
	ClaimedAt   *time.Time `db:"claimed_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// WakeupMessage is the RabbitMQ body announcing a newly queued job
type WakeupMessage struct {
	JobID string `json:"job_id"`
}
