package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/voice-journal/internal/queue"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSweepSchedule = "@every 30s"
	DefaultPassTimeout   = 5 * time.Minute
	DefaultPrefetchCount = 10
)

// Processor is the part of the transcription queue the worker drives
type Processor interface {
	ProcessNextBatch(ctx context.Context) (queue.BatchResult, error)
	ReclaimStale(ctx context.Context) (int, error)
}

// DeliverySource starts a manual-ack consumer
type DeliverySource interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Processor Processor
	// Source is optional; without it the worker relies on the sweep alone
	Source        DeliverySource
	WorkerID      string
	PrefetchCount int
	BatchSize     int
	PassTimeout   time.Duration
	SweepSchedule string
}

// Worker drains the transcription queue whenever it is woken up by a
// RabbitMQ message or by the periodic sweep
type Worker struct {
	logger        *slog.Logger
	processor     Processor
	source        DeliverySource
	workerID      string
	prefetchCount int
	batchSize     int
	passTimeout   time.Duration
	sweepSpec     string
	schedule      cron.Schedule
	wake          chan struct{}
	wg            sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Processor == nil {
		return nil, errors.New("worker requires a processor")
	}

	spec := cfg.SweepSchedule
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = queue.DefaultBatchSize
	}

	passTimeout := cfg.PassTimeout
	if passTimeout <= 0 {
		passTimeout = DefaultPassTimeout
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = DefaultPrefetchCount
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		logger:        logger.With(slog.String("worker_id", workerID)),
		processor:     cfg.Processor,
		source:        cfg.Source,
		workerID:      workerID,
		prefetchCount: prefetch,
		batchSize:     batchSize,
		passTimeout:   passTimeout,
		sweepSpec:     spec,
		schedule:      schedule,
		wake:          make(chan struct{}, 1),
	}, nil
}

// Start runs the worker until ctx is canceled. It returns once the
// in-flight batch pass has finished.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("batch_size", w.batchSize),
		slog.Duration("pass_timeout", w.passTimeout),
		slog.String("sweep_schedule", w.sweepSpec),
	)

	var deliveries <-chan amqp.Delivery
	if w.source != nil {
		var err error
		deliveries, err = w.source.Consume(w.workerID, w.prefetchCount)
		if err != nil {
			return fmt.Errorf("failed to start consuming: %w", err)
		}
	}

	scheduler := w.newScheduler(ctx)
	scheduler.Start()

	w.wg.Add(1)
	go w.processLoop(ctx)

	if deliveries != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, deliveries)
		}()
	}

	// Pick up whatever was queued while no worker was running
	w.signal()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	<-scheduler.Stop().Done()
	w.wg.Wait()

	w.logger.Info("Worker stopped")
	return nil
}

// signal requests a drain. Signals arriving while one is pending coalesce.
func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}
