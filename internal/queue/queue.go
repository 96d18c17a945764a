// Package queue owns the transcription job lifecycle: enqueue, batch claim,
// speech-to-text invocation, and the retry policy.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/cuongbtq/voice-journal/internal/metrics"
	"github.com/google/uuid"
)

// Defaults applied by Config.withDefaults
const (
	DefaultBatchSize         = 5
	DefaultMaxAttempts       = 3
	DefaultTranscribeTimeout = 60 * time.Second
	DefaultProcessingLease   = 10 * time.Minute

	// LeaseExpiredReason is recorded on jobs whose processing lease ran out
	LeaseExpiredReason = "processing lease expired"
)

// Store is the persistence contract of the queue. Every status change is a
// conditional update; ClaimQueued is the only way a job enters processing.
type Store interface {
	Insert(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
	ClaimQueued(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error)
	MarkCompleted(ctx context.Context, jobID string, attempt int, result string, now time.Time) error
	MarkRetry(ctx context.Context, jobID string, attempt int, lastError string, availableAt, now time.Time) error
	MarkFailed(ctx context.Context, jobID string, attempt int, lastError string, now time.Time) error
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time, maxAttempts int, reason string) (int, error)
}

// BlobFetcher loads audio bytes by key
type BlobFetcher interface {
	FetchBytes(ctx context.Context, key string) ([]byte, error)
}

// Transcriber turns audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC
var SystemClock Clock = systemClock{}

// Config holds queue tuning
type Config struct {
	BatchSize         int
	Concurrency       int
	MaxAttempts       int
	TranscribeTimeout time.Duration
	RetryBackoff      time.Duration // 0 means a failed job is immediately eligible again
	MaxRetryBackoff   time.Duration
	ProcessingLease   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 || c.Concurrency > c.BatchSize {
		c.Concurrency = c.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if c.ProcessingLease <= 0 {
		c.ProcessingLease = DefaultProcessingLease
	}
	return c
}

// Dependencies holds the collaborators of a Queue
type Dependencies struct {
	Store       Store
	Blobs       BlobFetcher
	Transcriber Transcriber
	Clock       Clock
	Logger      *slog.Logger
}

// Queue is the transcription queue service. Build one per process and share it.
type Queue struct {
	store       Store
	blobs       BlobFetcher
	transcriber Transcriber
	clock       Clock
	logger      *slog.Logger
	cfg         Config
}

// New creates a new Queue
func New(cfg Config, deps Dependencies) *Queue {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:       deps.Store,
		blobs:       deps.Blobs,
		transcriber: deps.Transcriber,
		clock:       clock,
		logger:      logger.With(slog.String("component", "transcription_queue")),
		cfg:         cfg.withDefaults(),
	}
}

// Config returns the effective configuration
func (q *Queue) Config() Config {
	return q.cfg
}

// Enqueue persists a queued job and returns its id. It does no transcription work.
func (q *Queue) Enqueue(ctx context.Context, audioKey, userID string) (string, error) {
	audioKey = strings.TrimSpace(audioKey)
	if audioKey == "" {
		return "", fmt.Errorf("%w: audio key is required", domain.ErrInvalidArgument)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}

	now := q.clock.Now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		AudioKey:    audioKey,
		UserID:      userID,
		Status:      domain.StatusQueued,
		Attempts:    0,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.store.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsEnqueued.Inc()
	q.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("user_id", userID),
		slog.String("audio_key", audioKey),
	)

	return job.ID, nil
}

// Job returns the job if it exists and is owned by userID
func (q *Queue) Job(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	job, err := q.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// ReclaimStale returns jobs whose processing lease expired to the queue,
// or fails them when no attempts remain.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	now := q.clock.Now()
	n, err := q.store.ReclaimStale(ctx, now.Add(-q.cfg.ProcessingLease), now, q.cfg.MaxAttempts, LeaseExpiredReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.JobsReclaimed.Add(float64(n))
		q.logger.Warn("Reclaimed jobs with expired processing lease",
			slog.Int("count", n),
			slog.Duration("lease", q.cfg.ProcessingLease),
		)
	}
	return n, nil
}

// backoff returns the delay before a job that has made attempts attempts
// becomes eligible again
func (q *Queue) backoff(attempts int) time.Duration {
	if q.cfg.RetryBackoff <= 0 || attempts <= 0 {
		return 0
	}
	d := q.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if q.cfg.MaxRetryBackoff > 0 && d >= q.cfg.MaxRetryBackoff {
			return q.cfg.MaxRetryBackoff
		}
	}
	if q.cfg.MaxRetryBackoff > 0 && d > q.cfg.MaxRetryBackoff {
		return q.cfg.MaxRetryBackoff
	}
	return d
}

func errorMessage(err error) string {
	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		return jobErr.Error()
	}
	return err.Error()
}
