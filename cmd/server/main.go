package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"props-system/config"
	"props-system/internal/database"
	"props-system/internal/events"
	"props-system/internal/server/handlers"
	"props-system/internal/server/middleware"
	"props-system/internal/services/bulk"
	"props-system/internal/services/checkout"
	"props-system/internal/services/merge"
	"props-system/internal/services/permissions"
	"props-system/internal/services/stocktake"
)

func main() {
	cfg := config.LoadConfig()

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := config.NewRedisClient(cfg.Redis)

	tokenTTL, err := time.ParseDuration(cfg.Auth.TokenTTL)
	if err != nil {
		log.Printf("Invalid TOKEN_TTL %q, defaulting to 24h", cfg.Auth.TokenTTL)
		tokenTTL = 24 * time.Hour
	}

	publisher := events.NewPublisher(redisClient)
	protocol := checkout.NewService(db, permissions.Oracle{}, publisher)
	bulkSvc := bulk.NewService(db, protocol)
	mergeSvc := merge.NewService(db)
	stocktakeSvc := stocktake.NewService(db)

	authHandler := handlers.NewAuthHandler(db, tokenTTL)
	assetHandler := handlers.NewAssetHandler(db, redisClient, protocol, bulkSvc, mergeSvc, stocktakeSvc)

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit("100-M"))
	r.Use(middleware.Metrics())

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/register", authHandler.Register)
		}
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(db))
	{
		assets := protected.Group("/assets")
		{
			assets.POST("", assetHandler.CreateAsset)
			assets.GET("", assetHandler.ListAssets)
			assets.GET("/resolve", assetHandler.ResolveAsset)
			assets.GET("/:id", assetHandler.GetAsset)
			assets.GET("/:id/transactions", assetHandler.ListTransactions)
			assets.POST("/:id/status", assetHandler.ChangeStatus)
			assets.GET("/:id/role", assetHandler.UserRole)

			assets.POST("/:id/checkout", assetHandler.Checkout)
			assets.POST("/:id/checkin", assetHandler.Checkin)
			assets.POST("/:id/transfer", assetHandler.Transfer)
			assets.POST("/:id/relocate", assetHandler.Relocate)
			assets.POST("/:id/handover", assetHandler.Handover)

			assets.POST("/:id/sighting", assetHandler.StocktakeSighting)
		}

		bulkGroup := protected.Group("/bulk")
		{
			bulkGroup.POST("/checkout", assetHandler.BulkCheckout)
			bulkGroup.POST("/checkin", assetHandler.BulkCheckin)
			bulkGroup.POST("/transfer", assetHandler.BulkTransfer)
			bulkGroup.POST("/status", assetHandler.BulkStatusChange)
			bulkGroup.POST("/edit", assetHandler.BulkEdit)
		}

		protected.POST("/merge", assetHandler.MergeAssets)
		protected.POST("/stocktake/sweep", assetHandler.StocktakeSweep)
	}

	r.GET("/health", healthCheckHandler(db, redisClient))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := ":" + cfg.Port
	log.Printf("Starting server on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func healthCheckHandler(db *gorm.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		degraded := []string{}

		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			degraded = append(degraded, "database")
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			degraded = append(degraded, "redis")
		}
		if len(degraded) > 0 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":               status,
			"message":              "Server is running",
			"unavailable_services": degraded,
			"timestamp":            time.Now(),
		})
	}
}
