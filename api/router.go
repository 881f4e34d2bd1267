package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/store"
)

func SetupRouter(jobs JobService, settings store.Store, cfg *config.Config, log *logrus.Entry) *gin.Engine {
	r := gin.Default()
	h := NewHandler(jobs, settings, cfg, log)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		// Async job endpoints
		v1.POST("/jobs", h.handleCreateJob)
		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.POST("/jobs/:jobId/cancel", h.handleCancelJob)

		// Per-user operations
		v1.POST("/users/:userId/cancel", h.handleCancelUser)
		v1.GET("/users/:userId/settings", h.handleGetSettings)
		v1.PATCH("/users/:userId/settings", h.handleUpdateSettings)

		v1.GET("/presets", h.handleListPresets)
	}
	return r
}
