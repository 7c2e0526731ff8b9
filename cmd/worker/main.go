/**
 * Table Reconstruction Worker - Main Entry Point
 *
 * Go worker that rebuilds tables from positioned OCR text fragments.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed analyze-fragments queue
 * - Spatial analysis pipeline (rows, columns, confidence, overlap)
 * - Redis result cache keyed by input hash
 * - PostgreSQL persistence for analyses and tables
 * - Qdrant layout fingerprints for similar-layout search
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/tableprocess-worker/internal/cache"
	"github.com/adverant/nexus/tableprocess-worker/internal/config"
	"github.com/adverant/nexus/tableprocess-worker/internal/logging"
	"github.com/adverant/nexus/tableprocess-worker/internal/processor"
	"github.com/adverant/nexus/tableprocess-worker/internal/queue"
	"github.com/adverant/nexus/tableprocess-worker/internal/storage"
)

func main() {
	logger := logging.NewLogger("TableWorker")

	if err := godotenv.Load(".env.nexus"); err != nil {
		logger.Warn(".env.nexus not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Table worker starting",
		"redis", cfg.RedisURL,
		"qdrant", cfg.QdrantURL,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency)

	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		logger.Error("Failed to initialize storage manager", "error", err)
		os.Exit(1)
	}
	logger.Info("Storage manager initialized (PostgreSQL + Qdrant)")

	procCfg := &processor.ProcessorConfig{
		Analyzer: cfg.AnalyzerConfig(),
		Store:    storageManager,
		Logger:   logging.NewLogger("DocumentProcessor"),
	}

	var resultCache *cache.RedisCache
	if cfg.CacheEnabled {
		resultCache, err = cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL())
		if err != nil {
			// the cache only saves work; run without it
			logger.Warn("Result cache unavailable", "error", err)
		} else {
			procCfg.Cache = resultCache
			logger.Info("Result cache enabled", "ttl", cfg.CacheTTL().String())
		}
	}

	proc, err := processor.NewDocumentProcessor(procCfg)
	if err != nil {
		logger.Error("Failed to initialize document processor", "error", err)
		storageManager.Close()
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		storageManager.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		storageManager.Close()
		os.Exit(1)
	}

	logger.Info("Queue consumer started", "stats", consumer.GetStatistics())
	if stats, err := storageManager.GetStats(ctx); err != nil {
		logger.Warn("Storage stats unavailable", "error", err)
	} else {
		logger.Info("Storage ready", "stats", stats)
	}
	go monitorStorage(ctx, storageManager, logger)

	ac := cfg.AnalyzerConfig()
	logger.Info("Table worker ready",
		"row_tolerance", ac.RowTolerance,
		"column_tolerance", ac.ColumnTolerance,
		"min_rows", ac.MinRows,
		"min_columns", ac.MinColumns,
		"parallel_pages", ac.Parallel,
		"collision_policy", string(ac.CollisionPolicy))

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	if err := consumer.Stop(context.Background()); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	if resultCache != nil {
		if err := resultCache.Close(); err != nil {
			logger.Error("Error closing result cache", "error", err)
		}
	}

	if err := storageManager.Close(); err != nil {
		logger.Error("Error closing storage manager", "error", err)
	}

	logger.Info("Shutdown complete")
}

// monitorStorage pings PostgreSQL once a minute until ctx is done
func monitorStorage(ctx context.Context, sm *storage.StorageManager, logger *logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := sm.Ping(pingCtx); err != nil {
				logger.Warn("Storage health check failed", "error", err)
			}
			cancel()
		}
	}
}
