package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/yellowtv/streamgate/internal/cache"
	"github.com/yellowtv/streamgate/internal/config"
	"github.com/yellowtv/streamgate/internal/database"
	"github.com/yellowtv/streamgate/internal/keygate"
	"github.com/yellowtv/streamgate/internal/ledger"
	"github.com/yellowtv/streamgate/internal/logging"
	"github.com/yellowtv/streamgate/internal/metrics"
	"github.com/yellowtv/streamgate/internal/middleware"
	"github.com/yellowtv/streamgate/internal/queue"
	"github.com/yellowtv/streamgate/internal/settlement"
	"github.com/yellowtv/streamgate/internal/storage"
	"github.com/yellowtv/streamgate/internal/tokens"
	"github.com/yellowtv/streamgate/internal/tracing"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	zlog := logger.Zerolog()

	kek, err := cfg.Keys.KEK()
	if err != nil {
		logger.Fatalf("Invalid key-encryption key: %v", err)
	}

	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	// Tracing
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer closer.Close()
	}

	// Database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	// Storage
	stor, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Video record cache
	videoCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis cache: %v", err)
	}
	defer videoCache.Close()

	// Queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	// Legacy token store
	tokenStore, err := tokens.NewStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Metering.LegacyTokenTTL)
	if err != nil {
		logger.Fatalf("Failed to connect to token store: %v", err)
	}
	defer tokenStore.Close()

	// Ledger, settlement and the key gate
	registry := ledger.NewRegistry(repo, zlog)

	var settler settlement.Settler
	if cfg.Settlement.Endpoint != "" {
		settler = settlement.NewChainSettler(cfg.Settlement.Endpoint, cfg.Settlement.Secret)
	}
	settleService := settlement.NewService(settler, zlog)

	videos := newCachedVideoSource(repo, videoCache, zlog)
	gate := keygate.New(videos, registry, tokenStore, kek, zlog)

	api := &API{
		videos:    videos,
		creator:   repo,
		storage:   stor,
		queue:     q,
		registry:  registry,
		tokens:    tokenStore,
		gate:      gate,
		settle:    settleService,
		archive:   repo,
		playlists: videoCache,
		cfg:       cfg,
		log:       zlog,
	}

	// Idle session reaper shares the close path with the HTTP handler.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	reaper := ledger.NewReaper(registry, func(ctx context.Context, sessionID string) {
		api.closeAndSettle(ctx, sessionID)
		metrics.RecordSessionClosed("idle_reaper")
	}, cfg.Metering.IdleSweepInterval, cfg.Metering.IdleTimeout, zlog)
	go reaper.Run(reaperCtx)

	// Metrics server
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			metricsServer.Shutdown(ctx)
		}()
	}

	// HTTP server
	router := setupRouter(api)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(api.log))
	router.Use(middleware.Metrics())

	// Health check
	router.GET("/health", api.healthCheck)

	rl := middleware.NewRateLimiter(api.cfg.Metering.RateLimitRPS, api.cfg.Metering.RateLimitBurst)

	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.RateLimit(rl))
	{
		// Creator endpoints
		creator := apiGroup.Group("", middleware.JWTAuth())
		{
			creator.POST("/videos/upload", api.uploadVideo)
		}

		// Public video metadata and playback surface
		apiGroup.GET("/videos", api.listVideos)
		apiGroup.GET("/videos/:id", api.getVideo)
		apiGroup.GET("/videos/:id/playlist/:name", api.getPlaylist)
		apiGroup.GET("/videos/:id/segment/:segment", api.getSegment)

		// Key delivery
		apiGroup.GET("/videos/:id/key/:segment", api.getSegmentKey)
		apiGroup.GET("/videos/:id/key-json/:segment", api.getSegmentKeyJSON)

		// Sessions
		apiGroup.POST("/videos/:id/session", api.openSession)
		apiGroup.POST("/videos/:id/session/:sid/close", api.closeSession)
		apiGroup.GET("/videos/:id/session/:sid/status", api.sessionStatus)
	}

	return router
}
