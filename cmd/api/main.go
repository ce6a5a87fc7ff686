package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"vidforge/internal/adapter/repo"
	"vidforge/internal/domain"
	"vidforge/internal/engine"
	"vidforge/internal/http/handlers"
	httpapi "vidforge/internal/http/httpapi"
	"vidforge/internal/infra"
	"vidforge/internal/orchestrator"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}
	logger.Info().Str("path", fileStore.BasePath()).Msg("api: storage ready")

	var (
		jobs     domain.JobRepository
		assets   domain.AssetRepository
		overlays domain.OverlayRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to connect database")
		}
		defer pool.Close()
		jobs = repo.NewJobRepository(pool)
		assets = repo.NewAssetRepository(pool)
		overlays = repo.NewOverlayRepository(pool)
	} else {
		logger.Warn().Msg("api: DATABASE_URL empty, state is in-memory and lost on restart")
		memJobs := repo.NewMemoryJobRepository()
		jobs = memJobs
		assets = repo.NewMemoryAssetRepository(memJobs)
		overlays = repo.NewMemoryOverlayRepository()
	}

	var (
		jobQueue queue.Queue
		cancels  scheduler.CancelStore
	)
	if cfg.RedisAddr != "" {
		rq, err := queue.NewRedis(ctx, queue.RedisConfig{
			Addr:   cfg.RedisAddr,
			Key:    cfg.QueueName,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to connect redis")
		}
		jobQueue = rq
		cancels = rq
	} else {
		logger.Warn().Msg("api: REDIS_ADDR empty, using in-process queue")
		jobQueue = queue.NewMemory()
		cancels = scheduler.NewMemoryCancelStore()
	}
	defer jobQueue.Close()

	eng := engine.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, fileStore, logger)
	composer := pipeline.New(eng, assets, overlays, fileStore, logger, pipeline.Config{
		MaxParallelism: cfg.MaxStageParallelism,
		StageTimeout:   cfg.StageTimeout,
		MaxRetries:     cfg.MaxStageRetries,
	})
	sched := scheduler.New(jobs, jobQueue, composer, cancels, logger, cfg.WorkerCount)

	// Whenever either backend is process-local, no separate worker can
	// reach the queued jobs; they must run here.
	if cfg.EmbedWorkers() {
		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("api: embedded workers stopped")
			}
		}()
	}

	svc := orchestrator.NewService(jobs, assets, jobQueue, fileStore, sched, logger)
	app := handlers.NewApp(svc, logger)
	router := httpapi.NewRouter(app, logger, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
