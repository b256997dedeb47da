package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/types"
)

type TaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, task *types.Task) error
	CreateBatch(ctx context.Context, tx *gorm.DB, tasks []*types.Task) ([]*types.Task, error)
	GetByID(ctx context.Context, tx *gorm.DB, taskID string) (*types.Task, error)
	// FindByJobAndPath resolves the task a request event refers to.
	// Decomposition creates at most one task per source path within a job.
	FindByJobAndPath(ctx context.Context, tx *gorm.DB, jobID, sourceFilePath string) (*types.Task, error)
	// SetStatus validates the edge against the task transition table, then
	// writes gated on the prior stored status. resultFilePath is persisted only
	// for SUCCESS, errorMessage only for FAILURE; a retry back to PENDING
	// clears both.
	SetStatus(ctx context.Context, tx *gorm.DB, taskID string, status types.TaskStatus, resultFilePath, errorMessage *string) error
	List(ctx context.Context, tx *gorm.DB, page Page, filter TaskFilter) ([]*types.Task, int64, error)
	ListByJob(ctx context.Context, tx *gorm.DB, jobID string, page Page, status string) ([]*types.Task, int64, error)
	IDsByJob(ctx context.Context, tx *gorm.DB, jobID string) ([]string, error)
	AllByJob(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.Task, error)
	Pending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Task, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.TaskStatus]int64, error)
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{
		db:  db,
		log: baseLog.With("repo", "TaskRepo"),
	}
}

func (r *taskRepo) Create(ctx context.Context, tx *gorm.DB, task *types.Task) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(task).Error; err != nil {
		return apierr.New(apierr.KindRepository, "TASK_CREATE", err)
	}
	return nil
}

func (r *taskRepo) CreateBatch(ctx context.Context, tx *gorm.DB, tasks []*types.Task) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*types.Task{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
		return nil, apierr.New(apierr.KindRepository, "TASK_CREATE_BATCH", err)
	}
	return tasks, nil
}

func (r *taskRepo) GetByID(ctx context.Context, tx *gorm.DB, taskID string) (*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var task types.Task
	err := transaction.WithContext(ctx).
		Where("task_id = ?", taskID).
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "TASK_GET", err)
	}
	if task.TaskID == "" {
		return nil, nil
	}
	return &task, nil
}

func (r *taskRepo) FindByJobAndPath(ctx context.Context, tx *gorm.DB, jobID, sourceFilePath string) (*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var task types.Task
	err := transaction.WithContext(ctx).
		Where("job_id = ? AND source_file_path = ?", jobID, sourceFilePath).
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "TASK_FIND", err)
	}
	if task.TaskID == "" {
		return nil, nil
	}
	return &task, nil
}

func (r *taskRepo) SetStatus(ctx context.Context, tx *gorm.DB, taskID string, status types.TaskStatus, resultFilePath, errorMessage *string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if status == types.TaskSuccess && resultFilePath == nil {
		return apierr.Newf(apierr.KindValidation, "RESULT_PATH_REQUIRED",
			"task %s: SUCCESS requires a result_file_path", taskID)
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var task types.Task
		if err := txx.Where("task_id = ?", taskID).Limit(1).Find(&task).Error; err != nil {
			return apierr.New(apierr.KindRepository, "TASK_GET", err)
		}
		if task.TaskID == "" {
			return apierr.Newf(apierr.KindNotFound, "TASK_NOT_FOUND", "task %s not found", taskID)
		}
		// A same-status write is a duplicate delivery, not an edge.
		if task.Status == status {
			return nil
		}
		if !types.CanTransitionTask(task.Status, status) {
			return apierr.Newf(apierr.KindConflict, "INVALID_TRANSITION",
				"task %s: transition %s -> %s not permitted", taskID, task.Status, status)
		}
		updates := map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}
		switch status {
		case types.TaskSuccess:
			updates["result_file_path"] = resultFilePath
			updates["error_message"] = nil
		case types.TaskFailure:
			updates["result_file_path"] = nil
			updates["error_message"] = errorMessage
		case types.TaskPending:
			updates["result_file_path"] = nil
			updates["error_message"] = nil
		}
		res := txx.Model(&types.Task{}).
			Where("task_id = ? AND status = ?", taskID, task.Status).
			Updates(updates)
		if res.Error != nil {
			return apierr.New(apierr.KindRepository, "TASK_UPDATE", res.Error)
		}
		if res.RowsAffected == 0 {
			return apierr.Newf(apierr.KindConflict, "CONCURRENT_UPDATE",
				"task %s changed concurrently", taskID)
		}
		return nil
	})
}

func (r *taskRepo) List(ctx context.Context, tx *gorm.DB, page Page, filter TaskFilter) ([]*types.Task, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	page = page.normalized()

	q := transaction.WithContext(ctx).Model(&types.Task{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.JobID != "" {
		q = q.Where("job_id = ?", filter.JobID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apierr.New(apierr.KindRepository, "TASK_COUNT", err)
	}

	var out []*types.Task
	if err := q.Order("created_at DESC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&out).Error; err != nil {
		return nil, 0, apierr.New(apierr.KindRepository, "TASK_LIST", err)
	}
	return out, total, nil
}

func (r *taskRepo) ListByJob(ctx context.Context, tx *gorm.DB, jobID string, page Page, status string) ([]*types.Task, int64, error) {
	return r.List(ctx, tx, page, TaskFilter{JobID: jobID, Status: status})
}

func (r *taskRepo) IDsByJob(ctx context.Context, tx *gorm.DB, jobID string) ([]string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []string
	err := transaction.WithContext(ctx).
		Model(&types.Task{}).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Pluck("task_id", &ids).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "TASK_IDS", err)
	}
	return ids, nil
}

func (r *taskRepo) AllByJob(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Task
	err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Find(&out).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "TASK_ALL_BY_JOB", err)
	}
	return out, nil
}

func (r *taskRepo) Pending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit < 1 {
		limit = 100
	}
	var out []*types.Task
	err := transaction.WithContext(ctx).
		Where("status = ?", types.TaskPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "TASK_PENDING", err)
	}
	return out, nil
}

func (r *taskRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.TaskStatus]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status types.TaskStatus
		N      int64
	}
	err := transaction.WithContext(ctx).
		Model(&types.Task{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "TASK_STATS", err)
	}
	out := make(map[types.TaskStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
