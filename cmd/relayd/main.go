package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"quitline-realtime/internal/config"
	"quitline-realtime/internal/middleware"
	"quitline-realtime/internal/relay"
	"quitline-realtime/pkg/audit"
	"quitline-realtime/pkg/jwt"
	"quitline-realtime/pkg/logger"
	"quitline-realtime/pkg/metrics"
)

func main() {
	cfg := config.LoadConfig()

	if cfg.Env == "production" && cfg.JWTSecret == "secret" {
		log.Fatal("JWT_SECRET must be set in production")
	}

	logger.InitDefault()
	defer logger.Sync()

	jwtManager := jwt.NewManager(cfg.JWTSecret, 24*time.Hour)

	// Redis carries per-room fan-out between relay instances and the
	// presence keyspace.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	cancelPing()
	defer redisClient.Close()

	log.Println("✅ Connected to Redis")

	presenceRepo := relay.NewPresenceRepository(redisClient)
	auditLog := audit.NewLogger(redisClient)
	appMetrics := metrics.NewMetrics("relayd")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	hub := relay.NewHub(redisClient, presenceRepo, appMetrics, auditLog, cfg.MaxConnections, cfg.AllowedOrigins)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "relayd",
			"time":    time.Now().UTC(),
		})
	})

	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.GET("/ws", func(c *gin.Context) {
			hub.ServeWS(c)
		})
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Relay starting on port %s\n", cfg.Port)
		log.Println("📡 WebSocket endpoint: /v1/ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
