package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/siteprobe/siteprobe-be/internal/queue"
)

// QueueHealth handles GET /api/v1/queue/health
// Operational diagnostic: broker connectivity plus queue depth and consumer
// count. Never part of the scan-submission critical path.
func (h *ScanHandler) QueueHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.bridge.Health(c.Request.Context()))
}

// QueueTest handles POST /api/v1/queue/test
// Enqueues a synthetic job and echoes the broker-assigned id, job name and
// payload, validating the producer path end-to-end without running a scan.
func (h *ScanHandler) QueueTest(c *gin.Context) {
	payload, err := queue.NewJobPayload(
		"diag-"+uuid.New().String(),
		"https://example.com",
		nil,
		true,
		nil,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build test payload",
		})
		return
	}

	handle, err := h.producer.Enqueue(c.Request.Context(), payload)
	if err != nil {
		h.logger.Error("Queue test enqueue failed",
			slog.String("scan_id", payload.ScanID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Scan queue is unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, handle)
}
