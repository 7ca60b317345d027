package http

import (
	"github.com/gin-gonic/gin"

	"github.com/mapwatch/backend/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware(handler.logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		competitors := v1.Group("/competitors")
		{
			competitors.POST("", handler.CreateCompetitor)
			competitors.GET("", handler.ListCompetitors)
			competitors.GET("/:id", handler.GetCompetitor)
		}

		scraping := v1.Group("/scraping")
		{
			scraping.POST("/start-scrape", handler.StartScrape)
			scraping.GET("/jobs/:id", handler.GetScrapeJob)
			scraping.POST("/jobs/:id/cancel", handler.CancelScrapeJob)
			scraping.POST("/catalog/sync", handler.SyncCatalog)
		}

		matching := v1.Group("/matching")
		{
			matching.POST("/run", handler.RunMatching)
		}

		matches := v1.Group("/matches")
		{
			matches.GET("", handler.ListMatches)
			matches.POST("/manual", handler.CreateManualMatch)
			matches.POST("/:id/verify", handler.VerifyMatch)
			matches.POST("/:id/reject", handler.RejectMatch)
			matches.DELETE("/:id", handler.DeleteMatch)
		}

		violations := v1.Group("/violations")
		{
			violations.POST("/scan", handler.ScanViolations)
			violations.GET("", handler.ListViolations)
			violations.POST("/:id/resolve", handler.ResolveViolation)
			violations.GET("/statistics", handler.ViolationStatistics)
			violations.GET("/export", handler.ExportViolations)
		}
	}

	return router
}
