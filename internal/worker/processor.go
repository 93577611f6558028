package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
)

// processScan processes a single scan job with timeout, heartbeat, and
// status updates
func (w *Worker) processScan(ctx context.Context, msg *domain.ScanMessage) error {
	payload := msg.Payload

	w.logger.Info("Processing scan",
		slog.String("scan_id", payload.ScanID),
		slog.String("url", payload.URL),
	)

	// Step 1: Claim the scan (pending -> running). A failed claim means
	// another worker owns the scan or it already finished; the duplicate
	// delivery is dropped without touching the record.
	if err := w.storage.ClaimScan(ctx, payload.ScanID, w.workerID, w.staleAfter); err != nil {
		if errors.Is(err, domain.ErrScanAlreadyClaimed) {
			status, statusErr := w.storage.GetScanStatus(ctx, payload.ScanID)
			if statusErr != nil {
				status = "unknown"
			}
			w.logger.Warn("Scan already claimed, skipping duplicate delivery",
				slog.String("scan_id", payload.ScanID),
				slog.String("current_status", status),
			)
			return fmt.Errorf("scan %s: %w", payload.ScanID, err)
		}
		// Database error, could be transient
		w.logger.Error("Failed to claim scan",
			slog.String("scan_id", payload.ScanID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to claim scan: %w", err))
	}

	// Step 2: Bound the whole job by the payload's timeout
	jobTimeout := w.jobTimeout
	if payload.ScanConfig.Timeout > 0 {
		jobTimeout = time.Duration(payload.ScanConfig.Timeout) * time.Millisecond
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	// Step 3: Heartbeat while the scan runs so the stale reclaimer leaves
	// this scan alone
	heartbeatDone := make(chan struct{})
	go w.sendScanHeartbeat(jobCtx, payload.ScanID, heartbeatDone)
	defer close(heartbeatDone)

	// Step 4: Execute the scan
	result, err := w.scanner.Scan(jobCtx, payload)

	// Step 5: Record the outcome. A scan that executed and failed is a
	// final result, not a queue fault; recording it and ACKing keeps
	// at-least-once delivery from re-running finished work.
	if err != nil {
		w.logger.Error("Scan execution failed",
			slog.String("scan_id", payload.ScanID),
			slog.String("url", payload.URL),
			slog.String("error", err.Error()),
		)

		if updateErr := w.storage.MarkScanFailed(ctx, payload.ScanID, err.Error()); updateErr != nil {
			w.logger.Error("Failed to record scan failure",
				slog.String("scan_id", payload.ScanID),
				slog.String("error", updateErr.Error()),
			)
			// Outcome not persisted; requeue so the result gets recorded
			return domain.NewRetryableError(fmt.Errorf("failed to record scan failure: %w", updateErr))
		}

		return nil // failure recorded, ACK the message
	}

	if updateErr := w.storage.MarkScanCompleted(ctx, payload.ScanID, result); updateErr != nil {
		w.logger.Error("Failed to record scan completion",
			slog.String("scan_id", payload.ScanID),
			slog.String("error", updateErr.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to record scan completion: %w", updateErr))
	}

	w.logger.Info("Scan completed",
		slog.String("scan_id", payload.ScanID),
		slog.Int("total_findings", result.Total()),
	)

	return nil // success, ACK the message
}

// sendScanHeartbeat periodically updates the scan's heartbeat timestamp
func (w *Worker) sendScanHeartbeat(ctx context.Context, scanID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Scan heartbeat started",
		slog.String("scan_id", scanID),
	)

	for {
		select {
		case <-done:
			w.logger.Debug("Scan heartbeat stopped",
				slog.String("scan_id", scanID),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Scan heartbeat stopped - context canceled",
				slog.String("scan_id", scanID),
			)
			return

		case <-ticker.C:
			if err := w.storage.UpdateScanHeartbeat(ctx, scanID); err != nil {
				w.logger.Warn("Failed to update scan heartbeat",
					slog.String("scan_id", scanID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
