package dto

import (
	"github.com/siteprobe/siteprobe-be/internal/api/domain"
	"github.com/siteprobe/siteprobe-be/internal/queue"
)

// CreateScanRequest submits a URL for scanning. ScanID is caller-supplied
// and becomes the idempotency/correlation key; when omitted the service
// assigns one. ScanConfig fields are optional overrides of system defaults.
type CreateScanRequest struct {
	ScanID       string                     `json:"scanId"`
	URL          string                     `json:"url" binding:"required"`
	UserID       *string                    `json:"userId"`
	IsPublicScan bool                       `json:"isPublicScan"`
	ScanConfig   *queue.ScanConfigOverrides `json:"scanConfig"`
}

// CreateScanResponse acknowledges an accepted scan. Acceptance means the
// broker durably holds the job, not that the scan ran.
type CreateScanResponse struct {
	ScanID string `json:"scanId"`
	Status string `json:"status"`
}

// ScanStatusResponse is the persisted scan record as exposed over HTTP.
type ScanStatusResponse struct {
	ScanID       string                `json:"scanId"`
	URL          string                `json:"url"`
	Domain       string                `json:"domain"`
	UserID       *string               `json:"userId"`
	IsPublicScan bool                  `json:"isPublicScan"`
	Status       string                `json:"status"`
	Counts       domain.SeverityCounts `json:"counts"`
	Error        string                `json:"error,omitempty"`
	CreatedAt    string                `json:"createdAt"`
	CompletedAt  string                `json:"completedAt,omitempty"`
}

// ListScansRequest filters and paginates scan history.
type ListScansRequest struct {
	UserID   string `form:"user_id"`
	Domain   string `form:"domain"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListScansResponse is a page of scan history.
type ListScansResponse struct {
	Scans      []ScanStatusResponse `json:"scans"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// LiveViewResponse carries the composed remote-desktop stream endpoint and
// the scan's current status.
type LiveViewResponse struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}
