package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siteprobe/siteprobe-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scan-api-service",
		})
	})

	scanHandler := handler.NewScanHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		scans := v1.Group("/scans")
		{
			// POST /api/v1/scans - Submit a URL for scanning
			scans.POST("", scanHandler.CreateScan)

			// GET /api/v1/scans - List scan history
			scans.GET("", scanHandler.ListScans)

			// GET /api/v1/scans/:scan_id - Get scan status
			scans.GET("/:scan_id", scanHandler.GetScan)

			// GET /api/v1/scans/:scan_id/live-view - Remote browser stream endpoint
			scans.GET("/:scan_id/live-view", scanHandler.GetLiveView)
		}

		diag := v1.Group("/queue")
		{
			// GET /api/v1/queue/health - Broker connectivity and queue depth
			diag.GET("/health", scanHandler.QueueHealth)

			// POST /api/v1/queue/test - Enqueue a synthetic job and echo it
			diag.POST("/test", scanHandler.QueueTest)
		}
	}

	return r
}
