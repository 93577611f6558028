package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received scan job",
				slog.String("worker_name", workerName),
				slog.String("scan_id", msg.Payload.ScanID),
				slog.Uint64("delivery_tag", msg.Delivery.DeliveryTag),
			)

			err := w.processScan(ctx, msg)
			w.settleDelivery(workerName, msg, err)
		}
	}
}

// settleDelivery acknowledges or rejects the delivery based on the
// processing result. It settles through the delivery itself: delivery tags
// are scoped to the channel that issued them, and the client may have
// redialed onto a new channel while the scan ran.
func (w *Worker) settleDelivery(workerName string, msg *domain.ScanMessage, err error) {
	if err != nil {
		w.logger.Error("Scan processing failed",
			slog.String("worker_name", workerName),
			slog.String("scan_id", msg.Payload.ScanID),
			slog.String("error", err.Error()),
		)

		requeue := w.shouldRequeueJob(err)

		if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("scan_id", msg.Payload.ScanID),
				slog.String("error", nackErr.Error()),
			)
		} else {
			w.logger.Info("Message NACKed",
				slog.String("worker_name", workerName),
				slog.String("scan_id", msg.Payload.ScanID),
				slog.Bool("requeue", requeue),
			)
		}
		return
	}

	if ackErr := msg.Delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("scan_id", msg.Payload.ScanID),
			slog.String("error", ackErr.Error()),
		)
	} else {
		w.logger.Info("Scan job acknowledged",
			slog.String("worker_name", workerName),
			slog.String("scan_id", msg.Payload.ScanID),
		)
	}
}

// shouldRequeueJob determines if a scan job should be requeued based on the
// error type
func (w *Worker) shouldRequeueJob(err error) bool {
	// Duplicate delivery of claimed or finished work is dropped
	if errors.Is(err, domain.ErrScanAlreadyClaimed) {
		return false
	}

	// A malformed payload never becomes valid
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	// Requeue for transient/retryable errors
	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	// Default: don't requeue for unknown errors
	return false
}
