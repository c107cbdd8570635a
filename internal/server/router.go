package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/obralens/obralens-backend/internal/handlers"
	"github.com/obralens/obralens-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	ComparisonHandler *handlers.ComparisonHandler
	AllowOrigins      []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	allowOrigins := cfg.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/comparisons", cfg.ComparisonHandler.Create)
		api.GET("/comparisons/:id", cfg.ComparisonHandler.GetByID)
		api.POST("/comparisons/:id/reanalyze", cfg.ComparisonHandler.Reanalyze)
	}

	return router
}
