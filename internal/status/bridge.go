// Package status correlates a scan identifier to its persisted record and
// to broker/worker state. The store is the source of truth for "does this
// scan exist"; the queue is the source of truth for "has work been claimed".
package status

import (
	"context"
	"log/slog"

	"github.com/siteprobe/siteprobe-be/internal/api/model"
	"github.com/siteprobe/siteprobe-be/internal/queue"
)

// Store reads persisted scan records.
type Store interface {
	GetScanByID(ctx context.Context, scanID string) (*model.Scan, error)
}

// QueueProber reports broker-side health.
type QueueProber interface {
	Health(ctx context.Context) *queue.QueueHealth
}

// DatabaseProber reports store liveness.
type DatabaseProber interface {
	HealthCheck(ctx context.Context) error
}

// Bridge answers status and health queries without blocking on scan
// completion.
type Bridge struct {
	store  Store
	queue  QueueProber
	db     DatabaseProber
	logger *slog.Logger
}

func NewBridge(store Store, queueProber QueueProber, db DatabaseProber, logger *slog.Logger) *Bridge {
	return &Bridge{
		store:  store,
		queue:  queueProber,
		db:     db,
		logger: logger,
	}
}

// GetStatus is a pure read of the latest committed scan record; no caching.
// domain.ErrScanNotFound means "scan unknown", never "scan failed"; the
// record may not exist yet when lookup races the first worker write.
func (b *Bridge) GetStatus(ctx context.Context, scanID string) (*model.Scan, error) {
	scan, err := b.store.GetScanByID(ctx, scanID)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("Scan status resolved",
		slog.String("scan_id", scanID),
		slog.String("status", scan.Status),
	)

	return scan, nil
}

// Health combines store liveness with broker-reported queue state for the
// diagnostic surface.
type Health struct {
	Database string             `json:"database"`
	Queue    *queue.QueueHealth `json:"queue"`
}

func (b *Bridge) Health(ctx context.Context) *Health {
	h := &Health{
		Database: "ok",
		Queue:    b.queue.Health(ctx),
	}

	if err := b.db.HealthCheck(ctx); err != nil {
		b.logger.Warn("Database health probe failed",
			slog.String("error", err.Error()),
		)
		h.Database = err.Error()
	}

	return h
}
