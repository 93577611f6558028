package worker

import (
	"context"
	"log/slog"
	"time"
)

// recoveryLoop periodically resets running scans whose heartbeat went stale.
// A worker that dies mid-scan leaves its delivery unacked, so the broker
// redelivers it; resetting the row to pending lets the redelivery claim it.
func (w *Worker) recoveryLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.staleCheckEvery)
	defer ticker.Stop()

	w.logger.Info("Stale scan recovery started",
		slog.Duration("check_every", w.staleCheckEvery),
		slog.Duration("stale_after", w.staleAfter),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Stale scan recovery stopped - stopChan closed")
			return

		case <-ctx.Done():
			w.logger.Info("Stale scan recovery stopped - context canceled")
			return

		case <-ticker.C:
			recovered, err := w.storage.RecoverStaleScans(ctx, w.staleAfter)
			if err != nil {
				w.logger.Error("Stale scan recovery sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}

			if recovered > 0 {
				w.logger.Warn("Recovered stale scans",
					slog.Int64("count", recovered),
					slog.Duration("stale_after", w.staleAfter),
				)
			}
		}
	}
}
