package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"vidforge/internal/adapter/repo"
	"vidforge/internal/engine"
	"vidforge/internal/infra"
	"vidforge/internal/pipeline"
	"vidforge/internal/queue"
	"vidforge/internal/scheduler"
	"vidforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// A standalone worker shares no process memory with the API, so both
	// backends must be external.
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required")
	}
	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("worker: REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	logger.Info().Str("path", fileStore.BasePath()).Msg("worker: storage ready")

	jobQueue, err := queue.NewRedis(ctx, queue.RedisConfig{
		Addr:   cfg.RedisAddr,
		Key:    cfg.QueueName,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to connect redis")
	}
	defer jobQueue.Close()

	jobs := repo.NewJobRepository(pool)
	assets := repo.NewAssetRepository(pool)
	overlays := repo.NewOverlayRepository(pool)

	eng := engine.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, fileStore, logger)
	composer := pipeline.New(eng, assets, overlays, fileStore, logger, pipeline.Config{
		MaxParallelism: cfg.MaxStageParallelism,
		StageTimeout:   cfg.StageTimeout,
		MaxRetries:     cfg.MaxStageRetries,
	})
	sched := scheduler.New(jobs, jobQueue, composer, jobQueue, logger, cfg.WorkerCount)

	logger.Info().Int("workers", cfg.WorkerCount).Msg("worker: started")
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
