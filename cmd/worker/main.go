package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yellowtv/streamgate/internal/config"
	"github.com/yellowtv/streamgate/internal/database"
	"github.com/yellowtv/streamgate/internal/encoder"
	"github.com/yellowtv/streamgate/internal/logging"
	"github.com/yellowtv/streamgate/internal/metrics"
	"github.com/yellowtv/streamgate/internal/processor"
	"github.com/yellowtv/streamgate/internal/queue"
	"github.com/yellowtv/streamgate/internal/storage"
	"github.com/yellowtv/streamgate/internal/tracing"
	"github.com/yellowtv/streamgate/pkg/models"
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

	// Tracing
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName+"-worker", cfg.Tracing.JaegerEndpoint)
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

	// Queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	enc := encoder.NewFFmpeg(cfg.Encoder.FFmpegPath, cfg.Encoder.TempDir)
	proc := processor.New(repo, stor, enc, kek, processor.Config{
		SegmentTime: cfg.Encoder.SegmentTime,
		Bandwidth:   cfg.Encoder.Bandwidth,
		TempDir:     cfg.Encoder.TempDir,
		BaseURL:     cfg.Server.PublicBaseURL,
	}, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics server
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			metricsServer.Shutdown(shutdownCtx)
		}()

		go reportQueueDepth(ctx, q)
	}

	err = q.ConsumeProcessingJobs(ctx, func(job *models.ProcessingJob) error {
		return proc.Process(ctx, job)
	})
	if err != nil {
		logger.Fatalf("Failed to start consuming jobs: %v", err)
	}

	logger.Info("Worker started, waiting for processing jobs")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	logger.Info("Worker stopped")
}

// reportQueueDepth samples the processing queue depth into the metrics gauge.
func reportQueueDepth(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := q.GetQueueDepth(); err == nil {
				metrics.JobsQueueDepth.Set(float64(depth))
			}
		}
	}
}
