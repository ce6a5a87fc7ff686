package infra

import (
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	RedisAddr   string
	QueueName   string

	StoragePath string
	FFmpegPath  string
	FFprobePath string

	WorkerCount         int
	MaxStageParallelism int
	StageTimeout        time.Duration
	MaxStageRetries     int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL and REDIS_ADDR are optional; when
// empty the process runs on its in-memory equivalents.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		QueueName:   getEnv("QUEUE_NAME", "vidforge:jobs"),

		StoragePath: getEnv("STORAGE_PATH", "./data"),
		FFmpegPath:  os.Getenv("FFMPEG_PATH"),
		FFprobePath: os.Getenv("FFPROBE_PATH"),

		WorkerCount:         getEnvInt("WORKER_COUNT", 4),
		MaxStageParallelism: getEnvInt("MAX_STAGE_PARALLELISM", 3),
		StageTimeout:        time.Second * time.Duration(getEnvInt("STAGE_TIMEOUT_SECONDS", 600)),
		MaxStageRetries:     getEnvInt("MAX_STAGE_RETRIES", 2),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
	}

	// Workers use one connection at a time; leave headroom for API reads.
	cfg.DBMaxConns = getEnvInt("DB_MAX_CONNS", cfg.WorkerCount+4)

	return cfg, nil
}

// EmbedWorkers reports whether the API process has to run the worker pool
// itself. Whenever either backend is process-local, no separate worker
// process can reach the queued jobs: with an in-memory queue nothing else
// consumes it, and with in-memory repos an external worker would dequeue
// ids it cannot resolve.
func (c *Config) EmbedWorkers() bool {
	return c.DatabaseURL == "" || c.RedisAddr == ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
