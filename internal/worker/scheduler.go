package worker

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// newScheduler builds the cron runner for the periodic sweep. A sweep that
// overruns its interval causes the next tick to be skipped.
func (w *Worker) newScheduler(ctx context.Context) *cron.Cron {
	logger := cronLogger{logger: w.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(w.schedule, cron.FuncJob(func() { w.sweep(ctx) }))
	return c
}

// sweep recovers expired processing leases and then requests a drain, which
// also covers lost or never-published wake-ups
func (w *Worker) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	n, err := w.processor.ReclaimStale(ctx)
	if err != nil {
		w.logger.Error("Failed to reclaim stale jobs", slog.String("error", err.Error()))
	} else if n > 0 {
		w.logger.Info("Sweep reclaimed jobs", slog.Int("count", n))
	}

	w.signal()
}

// cronLogger adapts slog to the cron.Logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
