// Package dispatch kicks off batch processing after a job is enqueued,
// either in-process or by waking a worker over RabbitMQ.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/cuongbtq/voice-journal/internal/queue"
)

const (
	DefaultPassTimeout    = 5 * time.Minute
	DefaultMaxInFlight    = 2
	DefaultPublishTimeout = 3 * time.Second
)

// Trigger is notified after a job has been enqueued. Implementations must
// return promptly and never fail the caller.
type Trigger interface {
	Trigger(ctx context.Context, jobID string)
}

// Chain fans a trigger out to several targets in order
type Chain []Trigger

func (c Chain) Trigger(ctx context.Context, jobID string) {
	for _, t := range c {
		t.Trigger(ctx, jobID)
	}
}

// BatchProcessor runs one claim-and-process pass
type BatchProcessor interface {
	ProcessNextBatch(ctx context.Context) (queue.BatchResult, error)
}

// RunnerConfig holds Runner tuning
type RunnerConfig struct {
	PassTimeout time.Duration
	MaxInFlight int
	BatchSize   int
}

// Runner drains the queue in the background, detached from the caller's
// lifetime. A run repeats batch passes while they come back full. When
// MaxInFlight runs are already active the trigger is folded into a rerun
// flag, and the next run to finish drains once more.
type Runner struct {
	processor   BatchProcessor
	logger      *slog.Logger
	passTimeout time.Duration
	batchSize   int
	maxInFlight int

	mu       sync.Mutex
	inFlight int
	rerun    bool
	wg       sync.WaitGroup
}

// NewRunner creates a Runner
func NewRunner(processor BatchProcessor, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = DefaultPassTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = queue.DefaultBatchSize
	}
	return &Runner{
		processor:   processor,
		logger:      logger.With(slog.String("component", "batch_runner")),
		passTimeout: cfg.PassTimeout,
		batchSize:   cfg.BatchSize,
		maxInFlight: cfg.MaxInFlight,
	}
}

// Trigger starts a background drain, or marks a rerun if none can start
func (r *Runner) Trigger(ctx context.Context, jobID string) {
	r.mu.Lock()
	if r.inFlight >= r.maxInFlight {
		r.rerun = true
		r.mu.Unlock()
		r.logger.Debug("Batch runner saturated, rerun scheduled",
			slog.String("job_id", jobID),
		)
		return
	}
	r.inFlight++
	r.wg.Add(1)
	r.mu.Unlock()

	// The run outlives the request that triggered it
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer r.wg.Done()
		for {
			r.drain(runCtx, jobID)

			r.mu.Lock()
			if r.rerun {
				r.rerun = false
				r.mu.Unlock()
				continue
			}
			r.inFlight--
			r.mu.Unlock()
			return
		}
	}()
}

// drain runs passes until one comes back short of a full batch or fails
func (r *Runner) drain(ctx context.Context, jobID string) {
	passes := 0
	for {
		passCtx, cancel := context.WithTimeout(ctx, r.passTimeout)
		res, err := r.processor.ProcessNextBatch(passCtx)
		cancel()
		passes++

		if err != nil {
			r.logger.Error("Background batch pass failed",
				slog.String("job_id", jobID),
				slog.Int("pass", passes),
				slog.String("error", err.Error()),
			)
			return
		}

		if !res.Full(r.batchSize) {
			r.logger.Debug("Background drain finished",
				slog.String("job_id", jobID),
				slog.Int("passes", passes),
			)
			return
		}
	}
}

// Wait blocks until all running passes have finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// MessagePublisher publishes a message body
type MessagePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher wakes workers by publishing a wake-up message per job
type Publisher struct {
	client  MessagePublisher
	logger  *slog.Logger
	timeout time.Duration
}

// NewPublisher creates a Publisher. A non-positive timeout uses DefaultPublishTimeout.
func NewPublisher(client MessagePublisher, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Publisher{
		client:  client,
		logger:  logger.With(slog.String("component", "wakeup_publisher")),
		timeout: timeout,
	}
}

// Trigger publishes the wake-up. Failures are logged only: the worker's
// periodic sweep still picks the job up.
func (p *Publisher) Trigger(ctx context.Context, jobID string) {
	body, err := json.Marshal(domain.WakeupMessage{JobID: jobID})
	if err != nil {
		p.logger.Error("Failed to marshal wake-up message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.client.PublishWithRetry(pubCtx, body, "application/json"); err != nil {
		p.logger.Warn("Failed to publish wake-up message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Debug("Wake-up message published", slog.String("job_id", jobID))
}
