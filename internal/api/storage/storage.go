package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteprobe/siteprobe-be/internal/api/domain"
	"github.com/siteprobe/siteprobe-be/internal/api/model"
	"github.com/siteprobe/siteprobe-be/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateScan inserts a pending scan record. Inserting the same scan id twice
// is a no-op so duplicate submissions and queue redeliveries stay idempotent.
func (s *Storage) CreateScan(ctx context.Context, scan *model.Scan) error {
	query := `
		INSERT INTO scans (
			scan_id, url, domain, user_id, is_public_scan,
			status, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7
		)
		ON CONFLICT (scan_id) DO NOTHING
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		scan.ScanID,
		scan.URL,
		scan.Domain,
		scan.UserID,
		scan.IsPublicScan,
		scan.Status,
		scan.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}

	return nil
}

// GetScanByID looks up the persisted scan record. An unknown id is reported
// as domain.ErrScanNotFound, a normal outcome for callers.
func (s *Storage) GetScanByID(ctx context.Context, scanID string) (*model.Scan, error) {
	var scan model.Scan
	query := `
		SELECT
			scan_id, url, domain, user_id, is_public_scan, status,
			critical, high, medium, low, info, total,
			error_message, worker_id, created_at, completed_at, last_heartbeat_at
		FROM scans
		WHERE scan_id = $1
	`

	err := s.db.GetContext(ctx, &scan, query, scanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrScanNotFound
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	return &scan, nil
}

type ScanFilter struct {
	UserID   string
	Domain   string
	Status   string
	PageSize int
	Cursor   *ScanCursor
}

type ScanCursor struct {
	CreatedAt time.Time
	ScanID    string
}

// ListScans returns scan history newest-first with cursor pagination.
func (s *Storage) ListScans(ctx context.Context, filter ScanFilter) ([]model.Scan, error) {
	query := `
		SELECT
			scan_id, url, domain, user_id, is_public_scan, status,
			critical, high, medium, low, info, total,
			error_message, worker_id, created_at, completed_at, last_heartbeat_at
		FROM scans
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Domain != "" {
		query += fmt.Sprintf(" AND domain = $%d", argIdx)
		args = append(args, filter.Domain)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, scan_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ScanID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, scan_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var scans []model.Scan
	err := s.db.SelectContext(ctx, &scans, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}

	return scans, nil
}
