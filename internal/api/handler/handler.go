package handler

import (
	"context"
	"log/slog"

	"github.com/siteprobe/siteprobe-be/internal/api/model"
	"github.com/siteprobe/siteprobe-be/internal/api/storage"
	"github.com/siteprobe/siteprobe-be/internal/liveview"
	"github.com/siteprobe/siteprobe-be/internal/queue"
	"github.com/siteprobe/siteprobe-be/internal/status"
)

// Enqueuer hands scan jobs to the broker (producer side of the job queue).
type Enqueuer interface {
	Enqueue(ctx context.Context, payload *queue.JobPayload) (*queue.JobHandle, error)
	Health(ctx context.Context) *queue.QueueHealth
}

// StatusReader answers scan status and service health queries.
type StatusReader interface {
	GetStatus(ctx context.Context, scanID string) (*model.Scan, error)
	Health(ctx context.Context) *status.Health
}

// LiveViewResolver composes the remote-desktop stream endpoint for a scan.
type LiveViewResolver interface {
	LiveViewURL(ctx context.Context, scanID string) (*liveview.LiveView, error)
}

// ScanStore writes and lists persisted scan records.
type ScanStore interface {
	CreateScan(ctx context.Context, scan *model.Scan) error
	ListScans(ctx context.Context, filter storage.ScanFilter) ([]model.Scan, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Producer Enqueuer
	Bridge   StatusReader
	LiveView LiveViewResolver
	Storage  ScanStore
}

// ScanHandler handles scan-related HTTP requests
type ScanHandler struct {
	logger   *slog.Logger
	producer Enqueuer
	bridge   StatusReader
	liveView LiveViewResolver
	storage  ScanStore
}

// NewScanHandler creates a new ScanHandler instance
func NewScanHandler(deps *Dependencies) *ScanHandler {
	return &ScanHandler{
		logger:   deps.Logger,
		producer: deps.Producer,
		bridge:   deps.Bridge,
		liveView: deps.LiveView,
		storage:  deps.Storage,
	}
}
