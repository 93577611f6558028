package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
)

// Storage handles all database operations for the worker
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

// ClaimScan attempts to claim a scan using optimistic locking. A scan is
// claimable when it is pending, or when it is running but its heartbeat went
// stale (the previous worker died mid-scan and the broker redelivered).
// Completed and actively running scans are not claimable, so a duplicate
// delivery can never restart finished work.
func (s *Storage) ClaimScan(ctx context.Context, scanID, workerID string, staleAfter time.Duration) error {
	query := `
		UPDATE scans
		SET status = $1,
		    worker_id = $2,
		    last_heartbeat_at = NOW()
		WHERE scan_id = $3
		  AND (status = $4
		       OR (status = $1 AND last_heartbeat_at < NOW() - $5::interval))
	`

	staleInterval := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))

	result, err := s.db.ExecContext(ctx, query,
		domain.ScanStatusRunning,
		workerID,
		scanID,
		domain.ScanStatusPending,
		staleInterval,
	)
	if err != nil {
		return fmt.Errorf("failed to claim scan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Failed to claim scan - already claimed or finished",
			slog.String("scan_id", scanID),
			slog.String("worker_id", workerID),
		)
		return domain.ErrScanAlreadyClaimed
	}

	s.logger.Info("Scan claimed",
		slog.String("scan_id", scanID),
		slog.String("worker_id", workerID),
	)

	return nil
}

// MarkScanCompleted records the findings and moves the scan to completed
func (s *Storage) MarkScanCompleted(ctx context.Context, scanID string, result *domain.ScanResult) error {
	query := `
		UPDATE scans
		SET status = $1,
		    critical = $2,
		    high = $3,
		    medium = $4,
		    low = $5,
		    info = $6,
		    total = $7,
		    error_message = NULL,
		    completed_at = NOW()
		WHERE scan_id = $8
	`

	_, err := s.db.ExecContext(ctx, query,
		domain.ScanStatusCompleted,
		result.Critical,
		result.High,
		result.Medium,
		result.Low,
		result.Info,
		result.Total(),
		scanID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark scan completed: %w", err)
	}

	s.logger.Info("Scan completed",
		slog.String("scan_id", scanID),
		slog.Int("total_findings", result.Total()),
	)

	return nil
}

// MarkScanFailed records the failure reason and moves the scan to failed
func (s *Storage) MarkScanFailed(ctx context.Context, scanID, errorMsg string) error {
	query := `
		UPDATE scans
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW()
		WHERE scan_id = $3
	`

	_, err := s.db.ExecContext(ctx, query, domain.ScanStatusFailed, errorMsg, scanID)
	if err != nil {
		return fmt.Errorf("failed to mark scan failed: %w", err)
	}

	s.logger.Info("Scan failed",
		slog.String("scan_id", scanID),
		slog.String("reason", errorMsg),
	)

	return nil
}

// UpdateScanHeartbeat updates the last_heartbeat_at timestamp for a running scan
func (s *Storage) UpdateScanHeartbeat(ctx context.Context, scanID string) error {
	query := `
		UPDATE scans
		SET last_heartbeat_at = NOW()
		WHERE scan_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, scanID, domain.ScanStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update scan heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Scan heartbeat update - no rows affected (scan may not be running)",
			slog.String("scan_id", scanID),
		)
	}

	return nil
}

// RecoverStaleScans resets running scans whose heartbeat went stale back to
// pending so a redelivery can claim them. Returns the number of scans reset.
func (s *Storage) RecoverStaleScans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	query := `
		UPDATE scans
		SET status = $1,
		    worker_id = NULL,
		    last_heartbeat_at = NULL
		WHERE status = $2
		  AND last_heartbeat_at < NOW() - $3::interval
	`

	staleInterval := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))

	result, err := s.db.ExecContext(ctx, query,
		domain.ScanStatusPending,
		domain.ScanStatusRunning,
		staleInterval,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale scans: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// GetScanStatus reads the current status of a scan
func (s *Storage) GetScanStatus(ctx context.Context, scanID string) (string, error) {
	query := `SELECT status FROM scans WHERE scan_id = $1`

	var status string
	err := s.db.QueryRowContext(ctx, query, scanID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", domain.ErrScanNotFound
		}
		return "", fmt.Errorf("failed to get scan status: %w", err)
	}

	return status, nil
}
