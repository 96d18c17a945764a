package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"job_id", "audio_key", "user_id", "status", "attempts", "result", "last_error",
	"available_at", "claimed_at", "created_at", "updated_at",
}

func newTestStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(db, "postgres"), logger), mock
}

func TestStorage_Insert(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	job := &domain.Job{
		ID:          "5b0c2c1e-3a55-4a3f-9d4e-0d7c7c1c9a10",
		AudioKey:    "a1.webm",
		UserID:      "u1",
		Status:      domain.StatusQueued,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO transcription_jobs").
		WithArgs(job.ID, "a1.webm", "u1", "queued", 0, now, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Insert(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Insert_Error(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectExec("INSERT INTO transcription_jobs").
		WillReturnError(errors.New("connection refused"))

	err := s.Insert(context.Background(), &domain.Job{ID: "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert job")
}

func TestStorage_GetByID(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("(?s)SELECT .* FROM transcription_jobs WHERE job_id = \\$1").
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("j1", "a1.webm", "u1", "completed", 1, "hello world", nil, now, nil, now, now))

	job, err := s.GetByID(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.Result)
	assert.Equal(t, "hello world", *job.Result)
	assert.Nil(t, job.LastError)
	assert.Nil(t, job.ClaimedAt)
}

func TestStorage_GetByID_NotFound(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectQuery("(?s)SELECT .* FROM transcription_jobs").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_ClaimQueued(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	older := now.Add(-2 * time.Minute)
	newer := now.Add(-1 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE transcription_jobs")+"(?s).*FOR UPDATE SKIP LOCKED.*RETURNING").
		WithArgs("processing", now, "queued", 5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("j2", "b.mp3", "u1", "processing", 1, nil, nil, newer, now, newer, now).
			AddRow("j1", "a.webm", "u1", "processing", 2, nil, "timeout", older, now, older, now))

	jobs, err := s.ClaimQueued(context.Background(), 5, now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// Oldest first regardless of RETURNING order
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, "j2", jobs[1].ID)
	assert.Equal(t, domain.StatusProcessing, jobs[0].Status)
	assert.Equal(t, 2, jobs[0].Attempts)
	require.NotNil(t, jobs[0].ClaimedAt)
	assert.Equal(t, now, *jobs[0].ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ClaimQueued_Error(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectQuery("UPDATE transcription_jobs").
		WillReturnError(errors.New("database is unreachable"))

	_, err := s.ClaimQueued(context.Background(), 5, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim jobs")
}

func TestStorage_MarkCompleted(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE transcription_jobs").
		WithArgs("completed", "hello world", now, "j1", "processing", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkCompleted(context.Background(), "j1", 1, "hello world", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_MarkCompleted_GuardMiss(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Now()

	mock.ExpectExec("UPDATE transcription_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkCompleted(context.Background(), "j1", 1, "late result", now)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStorage_ExecTransition_RejectsIllegalTransition(t *testing.T) {
	s, mock := newTestStorage(t)

	err := s.execTransition(context.Background(), "j1", domain.StatusCompleted, domain.StatusQueued,
		"UPDATE transcription_jobs SET status = $1 WHERE job_id = $2", domain.StatusQueued, "j1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "completed -> queued")

	// Rejected before reaching the database
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_MarkRetry(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	availableAt := now.Add(10 * time.Second)

	mock.ExpectExec("UPDATE transcription_jobs").
		WithArgs("queued", "transcribe: 503", availableAt, now, "j1", "processing", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkRetry(context.Background(), "j1", 1, "transcribe: 503", availableAt, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_MarkFailed(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE transcription_jobs").
		WithArgs("failed", "fetch: blob not found", now, "j1", "processing", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkFailed(context.Background(), "j1", 3, "fetch: blob not found", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_MarkFailed_DBError(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectExec("UPDATE transcription_jobs").
		WillReturnError(errors.New("broken pipe"))

	err := s.MarkFailed(context.Background(), "j1", 3, "x", time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "failed to update job status to failed")
}

func TestStorage_ReclaimStale(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-10 * time.Minute)

	mock.ExpectExec("UPDATE transcription_jobs").
		WithArgs(3, "failed", "queued", "processing lease expired", now, "processing", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.ReclaimStale(context.Background(), cutoff, now, 3, "processing lease expired")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
