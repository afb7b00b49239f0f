package api

import (
	"github.com/RishiKendai/phosphorus/internal/config"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(cfg *config.Config, handler *Handler) *gin.Engine {
	router := gin.Default()

	rateLimiter := NewRateLimiter(cfg.RateLimitRPS, int(cfg.RateLimitRPS*2))

	// Middleware
	router.Use(MetricsMiddleware())
	router.Use(ErrorHandlerMiddleware())

	// Health endpoint (no auth)
	router.GET("/health", handler.Health)

	// API routes (with auth and rate limiting)
	api := router.Group("/api/v1")
	api.Use(JWTAuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))
	api.Use(RateLimitMiddleware(rateLimiter))
	{
		api.POST("/compute", handler.Compute)
		api.GET("/contests/:contestId/status", handler.Status)
		api.GET("/contests/:contestId/results", handler.Results)
		api.GET("/contests/:contestId/problems/:problemId/result", handler.ProblemResult)
		api.GET("/analyses/:analysisId/comparisons/:first/:second", handler.Detail)
		api.GET("/analyses/:analysisId/clusters", handler.Clusters)
		api.GET("/languages", handler.Languages)
		api.GET("/contests", handler.Contests)
		api.GET("/contests/:contestId/problems", handler.ContestProblems)
		api.GET("/contests/:contestId/problems/:problemId/languages", handler.ProblemLanguages)
	}

	return router
}
