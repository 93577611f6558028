package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siteprobe/siteprobe-be/internal/api/domain"
	"github.com/siteprobe/siteprobe-be/internal/api/dto"
	"github.com/siteprobe/siteprobe-be/internal/liveview"
)

// GetLiveView handles GET /api/v1/scans/:scan_id/live-view
// Resolves the remote-desktop stream endpoint for an in-progress scan.
// 404 when the scan is unknown, 503 when no streaming host is deployed.
func (h *ScanHandler) GetLiveView(c *gin.Context) {
	scanID := c.Param("scan_id")

	view, err := h.liveView.LiveViewURL(c.Request.Context(), scanID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrScanNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Scan not found",
			})
		case errors.Is(err, liveview.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Live view is not configured for this deployment",
			})
		default:
			h.logger.Error("Failed to resolve live view",
				slog.String("scan_id", scanID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to resolve live view",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.LiveViewResponse{
		URL:    view.URL,
		Status: view.Status,
	})
}
