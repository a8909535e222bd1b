package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatd-io/chatd/internal/v1/config"
	"github.com/chatd-io/chatd/internal/v1/dispatch"
	"github.com/chatd-io/chatd/internal/v1/health"
	"github.com/chatd-io/chatd/internal/v1/history"
	"github.com/chatd-io/chatd/internal/v1/logging"
	"github.com/chatd-io/chatd/internal/v1/middleware"
	"github.com/chatd-io/chatd/internal/v1/mirror"
	"github.com/chatd-io/chatd/internal/v1/registry"
	"github.com/chatd-io/chatd/internal/v1/rooms"
	"github.com/chatd-io/chatd/internal/v1/tracing"
	"github.com/chatd-io/chatd/internal/v1/transport"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "chatd", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Warn("Tracing disabled: collector unreachable", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	// --- Room Mirror Initialization (Optional) ---
	// Mirror room metadata into Redis so rooms survive a restart
	var mirrorService *mirror.Service
	if cfg.RedisEnabled {
		var err error
		mirrorService, err = mirror.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running without room mirror", "error", err)
			mirrorService = nil // Fallback to in-memory only
		} else {
			slog.Info("✅ Redis room mirror initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- Core Assembly ---
	reg := registry.New()
	store := rooms.NewStore(cfg.RequirePrivatePassword, mirrorService)
	if mirrorService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.LoadFromMirror(ctx); err != nil {
			slog.Warn("Room warm start failed, continuing with empty catalog", "error", err)
		}
		cancel()
	}
	log := history.NewLog()

	core := dispatch.New(reg, store, log, dispatch.Options{
		IdleTimeout: cfg.IdleTimeout,
		ReplayLimit: cfg.HistoryReplay,
	})
	core.Start()

	// --- TCP Chat Server ---
	tcpServer := transport.NewTCPServer(cfg.Host+":"+cfg.Port, core)
	if err := tcpServer.Listen(); err != nil {
		slog.Error("Failed to bind TCP listener", "addr", cfg.Host+":"+cfg.Port, "error", err)
		os.Exit(1)
	}
	go tcpServer.Serve()

	// --- HTTP Surface (websocket, metrics, health, stats) ---
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	router.GET("/ws", transport.ServeWs(core, cfg.AllowedOrigins))

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check and stats endpoints
	healthHandler := health.NewHandler(mirrorService, func() any { return core.CollectStats() })
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/stats", healthHandler.Stats)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the HTTP server in a goroutine so it doesn't block.
	go func() {
		slog.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run HTTP server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := tcpServer.Shutdown(ctx); err != nil {
		slog.Error("Error during TCP shutdown:", "error", err)
	}

	core.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if mirrorService != nil {
		if err := mirrorService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
