package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/voice-journal/internal/blobstore"
	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/cuongbtq/voice-journal/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// BatchResult summarises one ProcessNextBatch pass
type BatchResult struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	// Lost counts jobs whose final status write did not land (store error
	// or lease taken over); they are picked up again by ReclaimStale.
	Lost int
}

// Full reports whether the pass claimed a whole batch, i.e. more work may be waiting
func (r BatchResult) Full(batchSize int) bool {
	return r.Claimed >= batchSize
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeLost
)

// ProcessNextBatch claims up to BatchSize queued jobs and processes them.
// Job-level failures are recorded on the job and never returned; an error
// means the claim itself failed and the store is unavailable.
func (q *Queue) ProcessNextBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult

	jobs, err := q.store.ClaimQueued(ctx, q.cfg.BatchSize, q.clock.Now())
	if err != nil {
		metrics.BatchRuns.WithLabelValues("error").Inc()
		return result, fmt.Errorf("failed to claim batch: %w", err)
	}
	result.Claimed = len(jobs)
	metrics.BatchRuns.WithLabelValues("ok").Inc()
	if len(jobs) == 0 {
		return result, nil
	}
	metrics.JobsClaimed.Add(float64(len(jobs)))

	q.logger.Info("Processing batch",
		slog.Int("claimed", len(jobs)),
		slog.Int("concurrency", q.cfg.Concurrency),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Concurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			o := q.processJob(gctx, job)

			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeCompleted:
				result.Completed++
			case outcomeRetried:
				result.Retried++
			case outcomeFailed:
				result.Failed++
			case outcomeLost:
				result.Lost++
			}
			// Never return an error: one job must not cancel its siblings
			return nil
		})
	}
	_ = g.Wait()

	q.logger.Info("Batch finished",
		slog.Int("claimed", result.Claimed),
		slog.Int("completed", result.Completed),
		slog.Int("retried", result.Retried),
		slog.Int("failed", result.Failed),
		slog.Int("lost", result.Lost),
	)

	return result, nil
}

// processJob runs one claimed job through fetch and transcribe and records the outcome
func (q *Queue) processJob(ctx context.Context, job *domain.Job) outcome {
	logger := q.logger.With(
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempts),
	)

	transcript, err := q.transcribe(ctx, job)
	if err == nil {
		if werr := q.store.MarkCompleted(ctx, job.ID, job.Attempts, transcript, q.clock.Now()); werr != nil {
			logger.Error("Failed to record completed job", slog.String("error", werr.Error()))
			return outcomeLost
		}
		metrics.JobOutcomes.WithLabelValues(metrics.OutcomeCompleted).Inc()
		logger.Info("Job completed", slog.Int("text_length", len(transcript)))
		return outcomeCompleted
	}

	msg := errorMessage(err)
	now := q.clock.Now()

	if job.Attempts < q.cfg.MaxAttempts {
		availableAt := now.Add(q.backoff(job.Attempts))
		if werr := q.store.MarkRetry(ctx, job.ID, job.Attempts, msg, availableAt, now); werr != nil {
			logger.Error("Failed to requeue job", slog.String("error", werr.Error()))
			return outcomeLost
		}
		metrics.JobOutcomes.WithLabelValues(metrics.OutcomeRetried).Inc()
		logger.Warn("Job attempt failed, will retry",
			slog.String("error", msg),
			slog.Int("max_attempts", q.cfg.MaxAttempts),
			slog.Time("available_at", availableAt),
		)
		return outcomeRetried
	}

	if werr := q.store.MarkFailed(ctx, job.ID, job.Attempts, msg, now); werr != nil {
		logger.Error("Failed to record failed job", slog.String("error", werr.Error()))
		return outcomeLost
	}
	metrics.JobOutcomes.WithLabelValues(metrics.OutcomeFailed).Inc()
	logger.Error("Job failed permanently",
		slog.String("error", msg),
		slog.Int("max_attempts", q.cfg.MaxAttempts),
	)
	return outcomeFailed
}

func (q *Queue) transcribe(ctx context.Context, job *domain.Job) (string, error) {
	audio, err := q.blobs.FetchBytes(ctx, job.AudioKey)
	if err != nil {
		return "", domain.NewJobError(job.ID, domain.StageFetch, err)
	}

	mimeType := blobstore.MimeType(job.AudioKey)

	tctx, cancel := context.WithTimeout(ctx, q.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	text, err := q.transcriber.Transcribe(tctx, audio, mimeType)
	metrics.TranscribeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", q.cfg.TranscribeTimeout, err)
		}
		return "", domain.NewJobError(job.ID, domain.StageTranscribe, err)
	}

	return text, nil
}
