package services

import (
	"time"

	"github.com/zorth44/sqlfluff-service/internal/types"
)

// PageEnvelope is the common pagination wrapper on list responses.
type PageEnvelope[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

func newPageEnvelope[T any](items []T, total int64, page, size int) PageEnvelope[T] {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	totalPages := int((total + int64(size) - 1) / int64(size))
	return PageEnvelope[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		Size:       size,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
}

// CreateJobRequest is the submission payload. Exactly one of SQLContent or
// ArchivePath must be set.
type CreateJobRequest struct {
	SQLContent  *string `json:"sql_content,omitempty"`
	ArchivePath *string `json:"archive_path,omitempty"`
	Dialect     string  `json:"dialect,omitempty"`
	UserID      string  `json:"user_id"`
	ProductName string  `json:"product_name"`
}

type JobSummary struct {
	JobID          string               `json:"job_id"`
	SubmissionType types.SubmissionType `json:"submission_type"`
	Status         types.JobStatus      `json:"status"`
	Dialect        string               `json:"dialect"`
	UserID         string               `json:"user_id"`
	ProductName    string               `json:"product_name"`
	ErrorMessage   *string              `json:"error_message,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type JobDetail struct {
	JobSummary
	SourcePath string                    `json:"source_path"`
	TaskCounts types.TaskCounts          `json:"task_counts"`
	SubTasks   PageEnvelope[TaskSummary] `json:"sub_tasks"`
}

type JobTaskIDs struct {
	JobID      string   `json:"job_id"`
	TaskIDs    []string `json:"task_ids"`
	TotalCount int      `json:"total_count"`
}

type JobStatistics struct {
	TotalJobs            int64                     `json:"total_jobs"`
	StatusCounts         map[types.JobStatus]int64 `json:"status_counts"`
	AvgProcessingMinutes *float64                  `json:"avg_processing_minutes,omitempty"`
}

type TaskStatistics struct {
	TotalTasks   int64                      `json:"total_tasks"`
	StatusCounts map[types.TaskStatus]int64 `json:"status_counts"`
}

type TaskSummary struct {
	TaskID    string           `json:"task_id"`
	JobID     string           `json:"job_id"`
	Status    types.TaskStatus `json:"status"`
	FileName  string           `json:"file_name"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type TaskDetail struct {
	TaskSummary
	SourceFilePath     string   `json:"source_file_path"`
	ResultFilePath     *string  `json:"result_file_path,omitempty"`
	ErrorMessage       *string  `json:"error_message,omitempty"`
	FileSize           *int64   `json:"file_size,omitempty"`
	ProcessingDuration *float64 `json:"processing_duration,omitempty"`
}

// RetryOutcome reports per-id results of a retry request.
type RetryOutcome struct {
	SubmittedTasks    []string          `json:"submitted_tasks"`
	FailedSubmissions []RetryRejection  `json:"failed_submissions"`
}

type RetryRejection struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func taskSummaryOf(t *types.Task) TaskSummary {
	return TaskSummary{
		TaskID:    t.TaskID,
		JobID:     t.JobID,
		Status:    t.Status,
		FileName:  t.FileName(),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func jobSummaryOf(j *types.Job) JobSummary {
	return JobSummary{
		JobID:          j.JobID,
		SubmissionType: j.SubmissionType,
		Status:         j.Status,
		Dialect:        j.Dialect,
		UserID:         j.UserID,
		ProductName:    j.ProductName,
		ErrorMessage:   j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
