package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/siteprobe/siteprobe-be/internal/api/domain"
	"github.com/siteprobe/siteprobe-be/internal/api/dto"
	"github.com/siteprobe/siteprobe-be/internal/api/model"
	"github.com/siteprobe/siteprobe-be/internal/api/storage"
	"github.com/siteprobe/siteprobe-be/internal/queue"
)

// CreateScan handles POST /api/v1/scans
// Accepts a scan target, records a pending scan and enqueues the job.
// Returns as soon as the broker has durably accepted the work.
func (h *ScanHandler) CreateScan(c *gin.Context) {
	var req dto.CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid scan request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	scanID := req.ScanID
	if scanID == "" {
		scanID = uuid.New().String()
	}

	payload, err := queue.NewJobPayload(scanID, req.URL, req.UserID, req.IsPublicScan, req.ScanConfig)
	if err != nil {
		h.logger.Error("Invalid scan target",
			slog.String("scan_id", scanID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	scan := model.Scan{
		ScanID:       payload.ScanID,
		URL:          payload.URL,
		Domain:       payload.Domain,
		IsPublicScan: payload.IsPublicScan,
		Status:       domain.ScanStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if payload.UserID != nil {
		scan.UserID = sql.NullString{String: *payload.UserID, Valid: true}
	}

	if err := h.storage.CreateScan(c.Request.Context(), &scan); err != nil {
		h.logger.Error("Failed to create scan record",
			slog.String("scan_id", payload.ScanID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create scan",
		})
		return
	}

	if _, err := h.producer.Enqueue(c.Request.Context(), payload); err != nil {
		// Never pretend acceptance: the scan was not queued.
		h.logger.Error("Failed to enqueue scan",
			slog.String("scan_id", payload.ScanID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Scan queue is unavailable, please try again",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateScanResponse{
		ScanID: payload.ScanID,
		Status: domain.ScanStatusPending,
	})
}

// GetScan handles GET /api/v1/scans/:scan_id
// Reports the persisted scan status without blocking on completion.
func (h *ScanHandler) GetScan(c *gin.Context) {
	scanID := c.Param("scan_id")
	if scanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "scan_id is required",
		})
		return
	}

	scan, err := h.bridge.GetStatus(c.Request.Context(), scanID)
	if err != nil {
		if errors.Is(err, domain.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Scan not found",
			})
			return
		}
		h.logger.Error("Failed to get scan status",
			slog.String("scan_id", scanID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get scan",
		})
		return
	}

	c.JSON(http.StatusOK, toScanStatusResponse(scan))
}

// ListScans handles GET /api/v1/scans
// Lists scan history with optional filtering and cursor pagination.
func (h *ScanHandler) ListScans(c *gin.Context) {
	var req dto.ListScansRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeScanCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.ScanFilter{
		UserID:   req.UserID,
		Domain:   req.Domain,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	scans, err := h.storage.ListScans(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list scans", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list scans",
		})
		return
	}

	hasMore := len(scans) > req.PageSize
	if hasMore {
		scans = scans[:req.PageSize]
	}

	scanResponse := make([]dto.ScanStatusResponse, len(scans))
	for i := range scans {
		scanResponse[i] = toScanStatusResponse(&scans[i])
	}

	var nextCursor string
	if hasMore {
		last := scans[len(scans)-1]
		nextCursor, err = EncodeScanCursor(&storage.ScanCursor{
			CreatedAt: last.CreatedAt,
			ScanID:    last.ScanID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListScansResponse{
		Scans:      scanResponse,
		NextCursor: nextCursor,
	})
}

func toScanStatusResponse(scan *model.Scan) dto.ScanStatusResponse {
	resp := dto.ScanStatusResponse{
		ScanID:       scan.ScanID,
		URL:          scan.URL,
		Domain:       scan.Domain,
		IsPublicScan: scan.IsPublicScan,
		Status:       scan.Status,
		Counts: domain.SeverityCounts{
			Critical: scan.Critical,
			High:     scan.High,
			Medium:   scan.Medium,
			Low:      scan.Low,
			Info:     scan.Info,
			Total:    scan.Total,
		},
		CreatedAt: scan.CreatedAt.Format(time.RFC3339),
	}

	if scan.UserID.Valid {
		resp.UserID = &scan.UserID.String
	}
	if scan.ErrorMessage.Valid {
		resp.Error = scan.ErrorMessage.String
	}
	if scan.CompletedAt.Valid {
		resp.CompletedAt = scan.CompletedAt.Time.Format(time.RFC3339)
	}

	return resp
}
