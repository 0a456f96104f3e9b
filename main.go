package main

import (
	"log"

	"ne-autoprice/internal/api"
	"ne-autoprice/internal/config"
	"ne-autoprice/internal/database"
	"ne-autoprice/internal/services/nextengine"
	"ne-autoprice/internal/services/platformsync"
	"ne-autoprice/internal/services/pricefeed"
	"ne-autoprice/internal/services/pricing"
	"ne-autoprice/internal/services/report"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	logger, err := buildLogger(cfg.Environment)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	logger.Info("database initialized")

	// Service wiring: one ERP client, its token store, the feed fetcher and
	// the two engines the scheduled flows drive.
	tokenStore := nextengine.NewGormTokenStore(db)
	client := nextengine.NewClient(cfg, tokenStore, logger)

	syncLogs := platformsync.NewGormSyncLogStore(db)
	syncEngine := platformsync.NewEngine(client, syncLogs, cfg, logger)

	pricingStore := pricing.NewGormStore(db)
	feed := pricefeed.NewFetcher(cfg, logger)
	pricingSvc := pricing.NewService(client, feed, syncEngine, pricingStore, cfg, logger)

	reportSvc := report.NewService(db, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	apiGroup := r.Group("/api")
	api.SetupRoutes(apiGroup, db, cfg, client, tokenStore, pricingSvc, pricingStore, syncEngine, syncLogs, reportSvc, logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	logger.Info("server starting", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
