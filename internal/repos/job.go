package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/types"
)

type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.Job) error
	GetByID(ctx context.Context, tx *gorm.DB, jobID string) (*types.Job, error)
	// SetStatus validates the edge against the job transition table before
	// writing. errorMessage is persisted only for FAILED and cleared otherwise.
	SetStatus(ctx context.Context, tx *gorm.DB, jobID string, status types.JobStatus, errorMessage *string) error
	// Reconcile writes a derived status without edge validation. Derivation is
	// the single authority on aggregate state; see SetStatus for external writes.
	Reconcile(ctx context.Context, tx *gorm.DB, jobID string, status types.JobStatus, errorMessage *string) error
	List(ctx context.Context, tx *gorm.DB, page Page, filter JobFilter) ([]*types.Job, int64, error)
	TaskCounts(ctx context.Context, tx *gorm.DB, jobID string) (types.TaskCounts, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.JobStatus]int64, error)
	// TerminalSpans returns the created/updated pairs of terminal jobs. The
	// average is computed in Go so the query stays portable across drivers.
	TerminalSpans(ctx context.Context, tx *gorm.DB) ([]JobSpan, error)
}

// JobSpan is the lifetime of a finished job.
type JobSpan struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return apierr.New(apierr.KindRepository, "JOB_CREATE", err)
	}
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, jobID string) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.Job
	err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "JOB_GET", err)
	}
	if job.JobID == "" {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) SetStatus(ctx context.Context, tx *gorm.DB, jobID string, status types.JobStatus, errorMessage *string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		if err := txx.Where("job_id = ?", jobID).Limit(1).Find(&job).Error; err != nil {
			return apierr.New(apierr.KindRepository, "JOB_GET", err)
		}
		if job.JobID == "" {
			return apierr.Newf(apierr.KindNotFound, "JOB_NOT_FOUND", "job %s not found", jobID)
		}
		if !types.CanTransitionJob(job.Status, status) {
			return apierr.Newf(apierr.KindConflict, "INVALID_TRANSITION",
				"job %s: transition %s -> %s not permitted", jobID, job.Status, status)
		}
		updates := map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}
		if status == types.JobFailed {
			updates["error_message"] = errorMessage
		} else {
			updates["error_message"] = nil
		}
		res := txx.Model(&types.Job{}).
			Where("job_id = ? AND status = ?", jobID, job.Status).
			Updates(updates)
		if res.Error != nil {
			return apierr.New(apierr.KindRepository, "JOB_UPDATE", res.Error)
		}
		if res.RowsAffected == 0 {
			return apierr.Newf(apierr.KindConflict, "CONCURRENT_UPDATE",
				"job %s changed concurrently", jobID)
		}
		return nil
	})
}

func (r *jobRepo) Reconcile(ctx context.Context, tx *gorm.DB, jobID string, status types.JobStatus, errorMessage *string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if status == types.JobFailed {
		updates["error_message"] = errorMessage
	} else {
		updates["error_message"] = nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if res.Error != nil {
		return apierr.New(apierr.KindRepository, "JOB_RECONCILE", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierr.Newf(apierr.KindNotFound, "JOB_NOT_FOUND", "job %s not found", jobID)
	}
	return nil
}

func (r *jobRepo) List(ctx context.Context, tx *gorm.DB, page Page, filter JobFilter) ([]*types.Job, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	page = page.normalized()

	q := transaction.WithContext(ctx).Model(&types.Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.SubmissionType != "" {
		q = q.Where("submission_type = ?", filter.SubmissionType)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *filter.CreatedBefore)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apierr.New(apierr.KindRepository, "JOB_COUNT", err)
	}

	var out []*types.Job
	if err := q.Order("created_at DESC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&out).Error; err != nil {
		return nil, 0, apierr.New(apierr.KindRepository, "JOB_LIST", err)
	}
	return out, total, nil
}

func (r *jobRepo) TaskCounts(ctx context.Context, tx *gorm.DB, jobID string) (types.TaskCounts, error) {
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
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return types.TaskCounts{}, apierr.New(apierr.KindRepository, "TASK_COUNTS", err)
	}
	var counts types.TaskCounts
	for _, row := range rows {
		counts.Total += row.N
		switch row.Status {
		case types.TaskPending:
			counts.Pending = row.N
		case types.TaskInProgress:
			counts.InProgress = row.N
		case types.TaskSuccess:
			counts.Success = row.N
		case types.TaskFailure:
			counts.Failure = row.N
		}
	}
	return counts, nil
}

func (r *jobRepo) TerminalSpans(ctx context.Context, tx *gorm.DB) ([]JobSpan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var spans []JobSpan
	err := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Select("created_at, updated_at").
		Where("status IN ?", []types.JobStatus{
			types.JobCompleted,
			types.JobPartiallyCompleted,
			types.JobFailed,
		}).
		Scan(&spans).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "JOB_SPANS", err)
	}
	return spans, nil
}

func (r *jobRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.JobStatus]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status types.JobStatus
		N      int64
	}
	err := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, apierr.New(apierr.KindRepository, "JOB_STATS", err)
	}
	out := make(map[types.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
