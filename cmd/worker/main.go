package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zorth44/sqlfluff-service/internal/analyzer"
	"github.com/zorth44/sqlfluff-service/internal/bus"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/db"
	"github.com/zorth44/sqlfluff-service/internal/filestore"
	"github.com/zorth44/sqlfluff-service/internal/locks"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/services"
	"github.com/zorth44/sqlfluff-service/internal/worker"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading configuration from main...")
	cfg := config.Load(log)

	// Postgres
	postgresService, err := db.NewPostgresService(cfg, log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	jobRepo := repos.NewJobRepo(thePG, log)
	taskRepo := repos.NewTaskRepo(thePG, log)

	// Infrastructure
	log.Info("Setting up file store, bus and locks from main...")
	store, err := filestore.New(cfg, log)
	if err != nil {
		log.Error("Could not init FileStore", "error", err)
		os.Exit(1)
	}
	eventBus, err := bus.NewRedisBus(cfg, log)
	if err != nil {
		log.Error("Could not init RedisBus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()
	lockService, err := locks.NewRedisLocks(cfg, log)
	if err != nil {
		log.Error("Could not init RedisLocks", "error", err)
		os.Exit(1)
	}

	// Services
	jobService := services.NewJobService(cfg, jobRepo, taskRepo, store, eventBus, lockService, log)
	taskService := services.NewTaskService(taskRepo, store, jobService, log)
	sqlfluffService := analyzer.NewSQLFluffService(cfg, log)

	// Worker
	w := worker.New(cfg, eventBus, lockService, store, sqlfluffService, taskService, taskRepo, jobRepo, log)
	log.Info("Worker initialized", "worker_id", w.ID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil {
		log.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}
