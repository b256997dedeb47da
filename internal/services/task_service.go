package services

import (
	"context"
	"encoding/json"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/filestore"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/types"
)

type TaskService interface {
	// Get returns the raw entity; missing tasks are a NOT_FOUND error here,
	// unlike the repository's nil contract.
	Get(ctx context.Context, taskID string) (*types.Task, error)
	GetDetail(ctx context.Context, taskID string) (*TaskDetail, error)
	List(ctx context.Context, page repos.Page, filter repos.TaskFilter) (PageEnvelope[TaskSummary], error)
	// GetResult loads the task's result artifact and attaches the source
	// location as file_info.file_path. Non-SUCCESS tasks are a CONFLICT.
	GetResult(ctx context.Context, taskID string) (map[string]interface{}, error)
	Pending(ctx context.Context, limit int) ([]TaskSummary, error)
	Statistics(ctx context.Context) (*TaskStatistics, error)
	// UpdateStatus routes through the repository's transition check and, when
	// the write lands, re-derives the parent job.
	UpdateStatus(ctx context.Context, taskID string, status types.TaskStatus, resultFilePath, errorMessage *string) error
}

type taskService struct {
	tasks repos.TaskRepo
	store *filestore.Service
	jobs  JobService
	log   *logger.Logger
}

func NewTaskService(tasks repos.TaskRepo, store *filestore.Service, jobs JobService, log *logger.Logger) TaskService {
	return &taskService{
		tasks: tasks,
		store: store,
		jobs:  jobs,
		log:   log.With("service", "TaskService"),
	}
}

func (s *taskService) Get(ctx context.Context, taskID string) (*types.Task, error) {
	task, err := s.tasks.GetByID(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apierr.Newf(apierr.KindNotFound, "TASK_NOT_FOUND", "task %s not found", taskID)
	}
	return task, nil
}

func (s *taskService) GetDetail(ctx context.Context, taskID string) (*TaskDetail, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	detail := &TaskDetail{
		TaskSummary:    taskSummaryOf(task),
		SourceFilePath: task.SourceFilePath,
		ResultFilePath: task.ResultFilePath,
		ErrorMessage:   task.ErrorMessage,
	}
	if size, err := s.store.FileSize(task.SourceFilePath); err == nil {
		detail.FileSize = &size
	}
	if task.Status.IsTerminal() {
		d := task.UpdatedAt.Sub(task.CreatedAt).Seconds()
		detail.ProcessingDuration = &d
	}
	return detail, nil
}

func (s *taskService) List(ctx context.Context, page repos.Page, filter repos.TaskFilter) (PageEnvelope[TaskSummary], error) {
	tasks, total, err := s.tasks.List(ctx, nil, page, filter)
	if err != nil {
		return PageEnvelope[TaskSummary]{}, err
	}
	summaries := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, taskSummaryOf(t))
	}
	return newPageEnvelope(summaries, total, page.Page, page.Size), nil
}

func (s *taskService) GetResult(ctx context.Context, taskID string) (map[string]interface{}, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskSuccess || task.ResultFilePath == nil {
		return nil, apierr.Newf(apierr.KindConflict, "RESULT_NOT_READY",
			"task %s is %s, result not available", taskID, task.Status)
	}
	text, err := s.store.ReadText(*task.ResultFilePath)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, apierr.New(apierr.KindFileAccess, "RESULT_DECODE", err)
	}

	fileInfo, ok := result["file_info"].(map[string]interface{})
	if !ok {
		fileInfo = map[string]interface{}{}
		result["file_info"] = fileInfo
	}
	fileInfo["file_path"] = task.SourceFilePath
	return result, nil
}

func (s *taskService) Pending(ctx context.Context, limit int) ([]TaskSummary, error) {
	tasks, err := s.tasks.Pending(ctx, nil, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, taskSummaryOf(t))
	}
	return summaries, nil
}

func (s *taskService) Statistics(ctx context.Context) (*TaskStatistics, error) {
	counts, err := s.tasks.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &TaskStatistics{StatusCounts: map[types.TaskStatus]int64{
		types.TaskPending:    0,
		types.TaskInProgress: 0,
		types.TaskSuccess:    0,
		types.TaskFailure:    0,
	}}
	for status, n := range counts {
		stats.StatusCounts[status] = n
		stats.TotalTasks += n
	}
	return stats, nil
}

func (s *taskService) UpdateStatus(ctx context.Context, taskID string, status types.TaskStatus, resultFilePath, errorMessage *string) error {
	if !status.Valid() {
		return apierr.Newf(apierr.KindValidation, "TASK_STATUS", "unknown task status %q", status)
	}
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.tasks.SetStatus(ctx, nil, taskID, status, resultFilePath, errorMessage); err != nil {
		return err
	}
	if err := s.jobs.DeriveJobStatus(ctx, task.JobID); err != nil {
		s.log.Warn("Job re-derivation failed", "job_id", task.JobID, "error", err)
	}
	return nil
}
