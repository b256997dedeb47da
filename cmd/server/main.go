package main

import (
	"context"
	"fmt"
	"os"

	"github.com/zorth44/sqlfluff-service/internal/bus"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/db"
	"github.com/zorth44/sqlfluff-service/internal/filestore"
	"github.com/zorth44/sqlfluff-service/internal/http/handlers"
	"github.com/zorth44/sqlfluff-service/internal/locks"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/monitor"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/server"
	"github.com/zorth44/sqlfluff-service/internal/services"
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
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
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
	log.Info("Setting up Services from main...")
	jobService := services.NewJobService(cfg, jobRepo, taskRepo, store, eventBus, lockService, log)
	taskService := services.NewTaskService(taskRepo, store, jobService, log)

	// Monitor
	eventMonitor := monitor.New(eventBus, log)
	if err := eventMonitor.Start(context.Background()); err != nil {
		log.Warn("Event monitor failed to start", "error", err)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	jobHandler := handlers.NewJobHandler(jobService, log)
	taskHandler := handlers.NewTaskHandler(taskService, jobService, log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		JobHandler:  jobHandler,
		TaskHandler: taskHandler,
		Log:         log,
	})

	fmt.Printf("Server listening on :%s\n", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
