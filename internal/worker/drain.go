package worker

import (
	"context"
	"log/slog"
)

// drain runs batch passes until a pass comes back short of a full batch.
// Each pass is detached from ctx so shutdown lets it finish instead of
// failing the claimed jobs; ctx is only checked between passes.
func (w *Worker) drain(ctx context.Context) {
	passes := 0
	for ctx.Err() == nil {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.passTimeout)
		res, err := w.processor.ProcessNextBatch(passCtx)
		cancel()
		passes++

		if err != nil {
			w.logger.Error("Batch pass failed",
				slog.Int("pass", passes),
				slog.String("error", err.Error()),
			)
			return
		}

		if !res.Full(w.batchSize) {
			if passes > 1 || res.Claimed > 0 {
				w.logger.Debug("Queue drained", slog.Int("passes", passes))
			}
			return
		}
	}
}
