package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/zorth44/sqlfluff-service/internal/http/handlers"
	"github.com/zorth44/sqlfluff-service/internal/http/middleware"
	"github.com/zorth44/sqlfluff-service/internal/logger"
)

type RouterConfig struct {
	JobHandler  *handlers.JobHandler
	TaskHandler *handlers.TaskHandler
	Log         *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(cfg.Log))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api/v1")
	{
		// Jobs
		api.POST("/jobs", cfg.JobHandler.CreateJob)
		api.GET("/jobs", cfg.JobHandler.ListJobs)
		api.GET("/jobs/statistics", cfg.JobHandler.Statistics)
		api.GET("/jobs/:job_id", cfg.JobHandler.GetJob)
		api.GET("/jobs/:job_id/tasks", cfg.JobHandler.JobTasks)
		api.PUT("/jobs/:job_id/status", cfg.JobHandler.SetStatus)

		// Tasks
		api.GET("/tasks", cfg.TaskHandler.ListTasks)
		api.GET("/tasks/statistics", cfg.TaskHandler.Statistics)
		api.GET("/tasks/pending", cfg.TaskHandler.Pending)
		api.POST("/tasks/retry", cfg.TaskHandler.RetryTasks)
		api.GET("/tasks/:task_id", cfg.TaskHandler.GetTask)
		api.GET("/tasks/:task_id/result", cfg.TaskHandler.GetResult)
		api.GET("/tasks/:task_id/result/download", cfg.TaskHandler.DownloadResult)
	}

	return router
}
