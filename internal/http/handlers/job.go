package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/http/response"
	"github.com/zorth44/sqlfluff-service/internal/ident"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/services"
	"github.com/zorth44/sqlfluff-service/internal/types"
)

type JobHandler struct {
	jobs services.JobService
	log  *logger.Logger
}

func NewJobHandler(jobs services.JobService, log *logger.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, log: log.With("handler", "JobHandler")}
}

func pageFromQuery(c *gin.Context) repos.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	return repos.Page{Page: page, Size: size}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req services.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.New(apierr.KindValidation, "BAD_REQUEST", err))
		return
	}
	jobID, err := h.jobs.CreateJob(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job_id": jobID})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if !ident.IsValidJobID(jobID) {
		response.RespondAPIError(c, apierr.Newf(apierr.KindValidation, "JOB_ID_FORMAT",
			"malformed job id %q", jobID))
		return
	}
	detail, err := h.jobs.GetJob(c.Request.Context(), jobID, pageFromQuery(c))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	filter := repos.JobFilter{
		Status:         c.Query("status"),
		SubmissionType: c.Query("submission_type"),
	}
	if from := c.Query("created_after"); from != "" {
		if ts, err := time.Parse(time.RFC3339, from); err == nil {
			filter.CreatedAfter = &ts
		}
	}
	if to := c.Query("created_before"); to != "" {
		if ts, err := time.Parse(time.RFC3339, to); err == nil {
			filter.CreatedBefore = &ts
		}
	}
	page, err := h.jobs.ListJobs(c.Request.Context(), pageFromQuery(c), filter)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, page)
}

func (h *JobHandler) Statistics(c *gin.Context) {
	stats, err := h.jobs.Statistics(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

func (h *JobHandler) JobTasks(c *gin.Context) {
	jobID := c.Param("job_id")
	if !ident.IsValidJobID(jobID) {
		response.RespondAPIError(c, apierr.Newf(apierr.KindValidation, "JOB_ID_FORMAT",
			"malformed job id %q", jobID))
		return
	}
	ids, err := h.jobs.TaskIDs(c.Request.Context(), jobID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, ids)
}

type setJobStatusRequest struct {
	Status       types.JobStatus `json:"status" binding:"required"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// SetStatus is the internal re-drive endpoint; it honors the transition
// table, so illegal edges come back as 409.
func (h *JobHandler) SetStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if !ident.IsValidJobID(jobID) {
		response.RespondAPIError(c, apierr.Newf(apierr.KindValidation, "JOB_ID_FORMAT",
			"malformed job id %q", jobID))
		return
	}
	var req setJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.New(apierr.KindValidation, "BAD_REQUEST", err))
		return
	}
	if err := h.jobs.SetJobStatus(c.Request.Context(), jobID, req.Status, req.ErrorMessage); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job_id": jobID, "status": req.Status})
}
