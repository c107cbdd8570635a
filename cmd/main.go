package main

import (
	"fmt"
	"os"

	"github.com/obralens/obralens-backend/internal/db"
	"github.com/obralens/obralens-backend/internal/handlers"
	"github.com/obralens/obralens-backend/internal/logger"
	"github.com/obralens/obralens-backend/internal/middleware"
	"github.com/obralens/obralens-backend/internal/repos"
	"github.com/obralens/obralens-backend/internal/server"
	"github.com/obralens/obralens-backend/internal/services"
	"github.com/obralens/obralens-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	jobRepo := repos.NewComparisonJobRepo(thePG, log)

	// Services
	log.Info("Setting up services...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	aiClient, err := services.NewAIClient(log)
	if err != nil {
		log.Error("Could not init AIClient", "error", err)
		os.Exit(1)
	}
	var notifier services.JobNotifier
	if n, err := services.NewRedisJobNotifier(log); err != nil {
		log.Warn("Job notifier disabled", "error", err)
	} else {
		notifier = n
		defer notifier.Close()
	}
	pipeline := services.NewComparisonPipeline(thePG, log, jobRepo, bucketService, aiClient, notifier)
	comparisonService := services.NewComparisonService(thePG, log, jobRepo, bucketService, pipeline)
	authService := services.NewAuthService(log, jwtSecretKey)

	// Handlers
	log.Info("Setting up handlers...")
	comparisonHandler := handlers.NewComparisonHandler(comparisonService)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		ComparisonHandler: comparisonHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
