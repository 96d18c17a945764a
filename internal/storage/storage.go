package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `job_id, audio_key, user_id, status, attempts, result, last_error,
	available_at, claimed_at, created_at, updated_at`

// Storage handles all transcription_jobs database operations
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Insert persists a new job record
func (s *Storage) Insert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO transcription_jobs (
			job_id, audio_key, user_id, status, attempts,
			available_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.AudioKey,
		job.UserID,
		job.Status,
		job.Attempts,
		job.AvailableAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID
func (s *Storage) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ClaimQueued atomically moves up to limit eligible queued jobs to processing,
// oldest first, and returns them. Rows locked by a concurrent claim are
// skipped, and the outer status guard makes the flip conditional, so each
// job is claimed by at most one caller.
func (s *Storage) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	query := `
		UPDATE transcription_jobs
		SET status = $1,
		    attempts = attempts + 1,
		    claimed_at = $2,
		    updated_at = $2
		WHERE job_id IN (
			SELECT job_id
			FROM transcription_jobs
			WHERE status = $3
			  AND available_at <= $2
			ORDER BY created_at ASC, job_id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		  AND status = $3
		RETURNING ` + jobColumns

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.StatusProcessing,
		now,
		domain.StatusQueued,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	// RETURNING does not preserve the subquery order
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	if len(jobs) > 0 {
		s.logger.Debug("Jobs claimed",
			slog.Int("count", len(jobs)),
			slog.Int("limit", limit),
		)
	}

	return jobs, nil
}

// MarkCompleted records the transcript of the attempt identified by (jobID, attempt)
func (s *Storage) MarkCompleted(ctx context.Context, jobID string, attempt int, result string, now time.Time) error {
	query := `
		UPDATE transcription_jobs
		SET status = $1,
		    result = $2,
		    last_error = NULL,
		    claimed_at = NULL,
		    updated_at = $3
		WHERE job_id = $4
		  AND status = $5
		  AND attempts = $6
	`

	return s.execTransition(ctx, jobID, domain.StatusProcessing, domain.StatusCompleted, query,
		domain.StatusCompleted, result, now, jobID, domain.StatusProcessing, attempt)
}

// MarkRetry puts the job back in the queue, eligible again from availableAt
func (s *Storage) MarkRetry(ctx context.Context, jobID string, attempt int, lastError string, availableAt, now time.Time) error {
	query := `
		UPDATE transcription_jobs
		SET status = $1,
		    last_error = $2,
		    available_at = $3,
		    claimed_at = NULL,
		    updated_at = $4
		WHERE job_id = $5
		  AND status = $6
		  AND attempts = $7
	`

	return s.execTransition(ctx, jobID, domain.StatusProcessing, domain.StatusQueued, query,
		domain.StatusQueued, lastError, availableAt, now, jobID, domain.StatusProcessing, attempt)
}

// MarkFailed moves the job to the terminal failed state
func (s *Storage) MarkFailed(ctx context.Context, jobID string, attempt int, lastError string, now time.Time) error {
	query := `
		UPDATE transcription_jobs
		SET status = $1,
		    result = NULL,
		    last_error = $2,
		    claimed_at = NULL,
		    updated_at = $3
		WHERE job_id = $4
		  AND status = $5
		  AND attempts = $6
	`

	return s.execTransition(ctx, jobID, domain.StatusProcessing, domain.StatusFailed, query,
		domain.StatusFailed, lastError, now, jobID, domain.StatusProcessing, attempt)
}

// execTransition runs a guarded status update. The query must only match
// rows still in status from.
func (s *Storage) execTransition(ctx context.Context, jobID string, from, to domain.Status, query string, args ...any) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status to %s: %w", to, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job status update skipped - job no longer held by this attempt",
			slog.String("job_id", jobID),
			slog.String("status", to.String()),
		)
		return domain.ErrInvalidTransition
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", to.String()),
	)

	return nil
}

// ReclaimStale releases processing leases claimed before claimedBefore.
// Jobs with attempts left return to queued; the rest fail.
func (s *Storage) ReclaimStale(ctx context.Context, claimedBefore, now time.Time, maxAttempts int, reason string) (int, error) {
	query := `
		UPDATE transcription_jobs
		SET status = CASE WHEN attempts >= $1 THEN $2::text ELSE $3::text END,
		    last_error = $4,
		    claimed_at = NULL,
		    available_at = $5,
		    updated_at = $5
		WHERE status = $6
		  AND claimed_at < $7
	`

	res, err := s.db.ExecContext(ctx, query,
		maxAttempts,
		domain.StatusFailed,
		domain.StatusQueued,
		reason,
		now,
		domain.StatusProcessing,
		claimedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}
