package api

import (
	"log/slog"
	"net/http"

	"photoproc/config"
	"photoproc/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, processors map[task.Mode]task.ItemProcessor, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(logger), gin.Recovery())
	r.MaxMultipartMemory = 32 << 20
	h := NewHandler(tm, processors, cfg, logger)

	r.GET("/health", h.handleHealth)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		// Batch processing runs in the background; clients poll the task.
		v1.POST("/processing/parallel", h.handleProcessParallel)
		v1.GET("/tasks/:taskId/status", h.handleGetTaskStatus)
		v1.GET("/tasks/:taskId/download", h.handleDownloadTask)

		// Single image endpoints answer synchronously.
		v1.POST("/processing/remove_background", h.handleSingle(task.ModeWhite, "image/png"))
		v1.POST("/processing/generate_image", h.handleSingle(task.ModeInterior, "image/jpeg"))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}
