package config

import (
	"time"

	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/utils"
)

// Config holds every knob the service recognizes. It is built once in main
// and handed to constructors; nothing reads the environment after Load.
type Config struct {
	// File store
	SharedRootPath string
	MaxFileBytes   int64
	MaxZipFiles    int

	// Postgres
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string

	// Redis (bus + locks)
	RedisAddr     string
	RedisPassword string

	// Analysis
	DefaultDialect string
	SQLFluffBin    string

	// Worker
	WorkerConcurrency int
	TaskLockTTL       time.Duration
	TaskMaxRetries    int
	TaskRetryBackoff  time.Duration
	TaskSoftTimeout   time.Duration
	TaskHardTimeout   time.Duration
	HeartbeatInterval time.Duration

	// HTTP
	Port string
}

func Load(log *logger.Logger) Config {
	return Config{
		SharedRootPath: utils.GetEnv("SHARED_ROOT_PATH", "/srv/sqlfluff-share", log),
		MaxFileBytes:   utils.GetEnvAsInt64("MAX_FILE_SIZE", 50*1024*1024, log),
		MaxZipFiles:    utils.GetEnvAsInt("MAX_ZIP_FILES", 1000, log),

		PostgresHost:     utils.GetEnv("POSTGRES_HOST", "localhost", log),
		PostgresPort:     utils.GetEnv("POSTGRES_PORT", "5432", log),
		PostgresUser:     utils.GetEnv("POSTGRES_USER", "postgres", log),
		PostgresPassword: utils.GetEnv("POSTGRES_PASSWORD", "", log),
		PostgresName:     utils.GetEnv("POSTGRES_NAME", "sqlfluff", log),

		RedisAddr:     utils.GetEnv("REDIS_ADDR", "localhost:6379", log),
		RedisPassword: utils.GetEnv("REDIS_PASSWORD", "", log),

		DefaultDialect: utils.GetEnv("DEFAULT_DIALECT", "ansi", log),
		SQLFluffBin:    utils.GetEnv("SQLFLUFF_BIN", "sqlfluff", log),

		WorkerConcurrency: utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		TaskLockTTL:       time.Duration(utils.GetEnvAsInt("TASK_LOCK_TTL_SECONDS", 300, log)) * time.Second,
		TaskMaxRetries:    utils.GetEnvAsInt("TASK_MAX_RETRIES", 3, log),
		TaskRetryBackoff:  time.Duration(utils.GetEnvAsInt("TASK_RETRY_BASE_BACKOFF_SECONDS", 60, log)) * time.Second,
		TaskSoftTimeout:   time.Duration(utils.GetEnvAsInt("TASK_SOFT_TIMEOUT_SECONDS", 1800, log)) * time.Second,
		TaskHardTimeout:   time.Duration(utils.GetEnvAsInt("TASK_HARD_TIMEOUT_SECONDS", 2100, log)) * time.Second,
		HeartbeatInterval: time.Duration(utils.GetEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30, log)) * time.Second,

		Port: utils.GetEnv("PORT", "8080", log),
	}
}
