package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStorage(sqlx.NewDb(db, "sqlmock"), slog.Default()), mock
}

func TestClaimScan(t *testing.T) {
	t.Run("pending scan is claimed", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE scans`).
			WithArgs(domain.ScanStatusRunning, "worker-1", "scan-1", domain.ScanStatusPending, "300 seconds").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.ClaimScan(context.Background(), "scan-1", "worker-1", 5*time.Minute)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claimed or finished scan is rejected", func(t *testing.T) {
		// Zero rows updated covers every non-claimable state: actively
		// running with a fresh heartbeat, completed, and failed. The
		// duplicate delivery must never restart the scan.
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE scans`).
			WithArgs(domain.ScanStatusRunning, "worker-2", "scan-1", domain.ScanStatusPending, "300 seconds").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.ClaimScan(context.Background(), "scan-1", "worker-2", 5*time.Minute)

		assert.ErrorIs(t, err, domain.ErrScanAlreadyClaimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim predicate includes the stale running branch", func(t *testing.T) {
		// A running scan whose heartbeat went stale is claimable again, so
		// the redelivery after a worker crash is not dropped
		s, mock := newMockStorage(t)

		mock.ExpectExec(`OR \(status = \$1 AND last_heartbeat_at < NOW\(\) - \$5::interval\)`).
			WithArgs(domain.ScanStatusRunning, "worker-2", "scan-1", domain.ScanStatusPending, "120 seconds").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.ClaimScan(context.Background(), "scan-1", "worker-2", 2*time.Minute)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error is not an already-claimed result", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE scans`).
			WillReturnError(errors.New("connection refused"))

		err := s.ClaimScan(context.Background(), "scan-1", "worker-1", 5*time.Minute)

		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrScanAlreadyClaimed)
	})
}

func TestMarkScanCompleted(t *testing.T) {
	s, mock := newMockStorage(t)

	result := &domain.ScanResult{Critical: 1, High: 2, Medium: 0, Low: 3, Info: 4}

	mock.ExpectExec(`UPDATE scans`).
		WithArgs(domain.ScanStatusCompleted, 1, 2, 0, 3, 4, 10, "scan-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkScanCompleted(context.Background(), "scan-1", result)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkScanFailed(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(`UPDATE scans`).
		WithArgs(domain.ScanStatusFailed, "browser scan failed", "scan-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkScanFailed(context.Background(), "scan-1", "browser scan failed")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScanHeartbeat(t *testing.T) {
	t.Run("running scan heartbeat", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE scans`).
			WithArgs("scan-1", domain.ScanStatusRunning).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.UpdateScanHeartbeat(context.Background(), "scan-1")

		require.NoError(t, err)
	})

	t.Run("no rows is not an error", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE scans`).
			WithArgs("scan-1", domain.ScanStatusRunning).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.UpdateScanHeartbeat(context.Background(), "scan-1")

		require.NoError(t, err)
	})
}

func TestRecoverStaleScans(t *testing.T) {
	t.Run("stale running scans reset to pending", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE scans`).
			WithArgs(domain.ScanStatusPending, domain.ScanStatusRunning, "300 seconds").
			WillReturnResult(sqlmock.NewResult(0, 2))

		recovered, err := s.RecoverStaleScans(context.Background(), 5*time.Minute)

		require.NoError(t, err)
		assert.Equal(t, int64(2), recovered)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing stale", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE scans`).
			WithArgs(domain.ScanStatusPending, domain.ScanStatusRunning, "300 seconds").
			WillReturnResult(sqlmock.NewResult(0, 0))

		recovered, err := s.RecoverStaleScans(context.Background(), 5*time.Minute)

		require.NoError(t, err)
		assert.Zero(t, recovered)
	})
}

func TestGetScanStatus(t *testing.T) {
	t.Run("known scan", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery(`SELECT status FROM scans`).
			WithArgs("scan-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.ScanStatusCompleted))

		status, err := s.GetScanStatus(context.Background(), "scan-1")

		require.NoError(t, err)
		assert.Equal(t, domain.ScanStatusCompleted, status)
	})

	t.Run("unknown scan", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery(`SELECT status FROM scans`).
			WithArgs("unknown").
			WillReturnError(sql.ErrNoRows)

		_, err := s.GetScanStatus(context.Background(), "unknown")

		assert.ErrorIs(t, err, domain.ErrScanNotFound)
	})
}
