package handlers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/http/response"
	"github.com/zorth44/sqlfluff-service/internal/ident"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/services"
)

const maxRetryBatch = 100

type TaskHandler struct {
	tasks services.TaskService
	jobs  services.JobService
	log   *logger.Logger
}

func NewTaskHandler(tasks services.TaskService, jobs services.JobService, log *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, jobs: jobs, log: log.With("handler", "TaskHandler")}
}

func (h *TaskHandler) validTaskID(c *gin.Context) (string, bool) {
	taskID := c.Param("task_id")
	if !ident.IsValidTaskID(taskID) {
		response.RespondAPIError(c, apierr.Newf(apierr.KindValidation, "TASK_ID_FORMAT",
			"malformed task id %q", taskID))
		return "", false
	}
	return taskID, true
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID, ok := h.validTaskID(c)
	if !ok {
		return
	}
	detail, err := h.tasks.GetDetail(c.Request.Context(), taskID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

func (h *TaskHandler) GetResult(c *gin.Context) {
	taskID, ok := h.validTaskID(c)
	if !ok {
		return
	}
	result, err := h.tasks.GetResult(c.Request.Context(), taskID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *TaskHandler) DownloadResult(c *gin.Context) {
	taskID, ok := h.validTaskID(c)
	if !ok {
		return
	}
	result, err := h.tasks.GetResult(c.Request.Context(), taskID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename="task_result_%s.json"`, taskID))
	response.RespondOK(c, result)
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	filter := repos.TaskFilter{
		Status: c.Query("status"),
		JobID:  c.Query("job_id"),
	}
	page, err := h.tasks.List(c.Request.Context(), pageFromQuery(c), filter)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, page)
}

type retryRequest struct {
	TaskIDs []string `json:"task_ids" binding:"required"`
}

func (h *TaskHandler) RetryTasks(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.New(apierr.KindValidation, "BAD_REQUEST", err))
		return
	}
	if len(req.TaskIDs) == 0 || len(req.TaskIDs) > maxRetryBatch {
		response.RespondAPIError(c, apierr.Newf(apierr.KindValidation, "RETRY_BATCH_SIZE",
			"task_ids must name between 1 and %d tasks", maxRetryBatch))
		return
	}
	outcome, err := h.jobs.RetryFailedTasks(c.Request.Context(), req.TaskIDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, outcome)
}

// Pending is an undocumented operational endpoint for inspecting queue
// backlog.
func (h *TaskHandler) Pending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	tasks, err := h.tasks.Pending(c.Request.Context(), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *TaskHandler) Statistics(c *gin.Context) {
	stats, err := h.tasks.Statistics(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, stats)
}
