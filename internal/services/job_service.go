package services

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/bus"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/events"
	"github.com/zorth44/sqlfluff-service/internal/filestore"
	"github.com/zorth44/sqlfluff-service/internal/ident"
	"github.com/zorth44/sqlfluff-service/internal/locks"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/types"
)

// noSQLFilesMessage is the terminal error recorded when decomposition finds
// nothing to analyze.
const noSQLFilesMessage = "No SQL files found"

// noEffectiveTasksMessage is recorded when every task turned out to be an
// invalid-SQL skip.
const noEffectiveTasksMessage = "no valid SQL files"

type JobService interface {
	// CreateJob persists the job as ACCEPTED and schedules decomposition
	// asynchronously. The returned id is usable immediately.
	CreateJob(ctx context.Context, req CreateJobRequest) (string, error)
	// Decompose expands the job into tasks and publishes one request per
	// task. Runs under a per-job lock; a busy lock means another replica is
	// already on it.
	Decompose(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string, page repos.Page) (*JobDetail, error)
	ListJobs(ctx context.Context, page repos.Page, filter repos.JobFilter) (PageEnvelope[JobSummary], error)
	Statistics(ctx context.Context) (*JobStatistics, error)
	TaskIDs(ctx context.Context, jobID string) (*JobTaskIDs, error)
	// DeriveJobStatus recomputes the aggregate from child task states and
	// reconciles the stored row when they differ.
	DeriveJobStatus(ctx context.Context, jobID string) error
	// SetJobStatus is the externally driven write; it honors the transition
	// table.
	SetJobStatus(ctx context.Context, jobID string, status types.JobStatus, errorMessage *string) error
	RetryFailedTasks(ctx context.Context, taskIDs []string) (*RetryOutcome, error)
}

type jobService struct {
	cfg   config.Config
	jobs  repos.JobRepo
	tasks repos.TaskRepo
	store *filestore.Service
	bus   bus.Bus
	locks locks.Service
	log   *logger.Logger
}

func NewJobService(cfg config.Config, jobs repos.JobRepo, tasks repos.TaskRepo, store *filestore.Service, b bus.Bus, lk locks.Service, log *logger.Logger) JobService {
	return &jobService{
		cfg:   cfg,
		jobs:  jobs,
		tasks: tasks,
		store: store,
		bus:   b,
		locks: lk,
		log:   log.With("service", "JobService"),
	}
}

func (s *jobService) CreateJob(ctx context.Context, req CreateJobRequest) (string, error) {
	hasContent := req.SQLContent != nil && strings.TrimSpace(*req.SQLContent) != ""
	hasArchive := req.ArchivePath != nil && strings.TrimSpace(*req.ArchivePath) != ""
	if hasContent == hasArchive {
		return "", apierr.Newf(apierr.KindValidation, "SUBMISSION_FIELDS",
			"exactly one of sql_content or archive_path is required")
	}

	jobID := ident.NewJobID()
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = s.cfg.DefaultDialect
	}

	job := &types.Job{
		JobID:       jobID,
		Dialect:     dialect,
		Status:      types.JobAccepted,
		UserID:      req.UserID,
		ProductName: req.ProductName,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if hasContent {
		sourcePath := filestore.SingleSourcePath(jobID)
		if err := s.store.WriteText(sourcePath, *req.SQLContent); err != nil {
			return "", err
		}
		job.SubmissionType = types.SubmissionSingleFile
		job.SourcePath = sourcePath
	} else {
		archivePath := strings.TrimSpace(*req.ArchivePath)
		if !s.store.Exists(archivePath) {
			return "", apierr.Newf(apierr.KindValidation, "ARCHIVE_NOT_FOUND",
				"archive %s not found in the file store", archivePath)
		}
		job.SubmissionType = types.SubmissionArchive
		job.SourcePath = archivePath
	}

	if err := s.jobs.Create(ctx, nil, job); err != nil {
		return "", err
	}
	s.log.Info("Job accepted", "job_id", jobID, "submission_type", job.SubmissionType)

	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.Decompose(dctx, jobID); err != nil {
			s.log.Error("Decomposition failed", "job_id", jobID, "error", err)
		}
	}()

	return jobID, nil
}

func (s *jobService) Decompose(ctx context.Context, jobID string) error {
	lease, err := s.locks.Acquire(ctx, locks.ExpandLockKey(jobID), s.cfg.TaskLockTTL)
	if err != nil {
		return err
	}
	if lease == nil {
		s.log.Info("Decomposition already in progress elsewhere", "job_id", jobID)
		return nil
	}
	defer func() {
		if err := s.locks.Release(context.Background(), lease); err != nil {
			s.log.Warn("Lock release failed", "key", lease.Key, "error", err)
		}
	}()

	job, err := s.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apierr.Newf(apierr.KindNotFound, "JOB_NOT_FOUND", "job %s not found", jobID)
	}
	if job.Status != types.JobAccepted {
		s.log.Info("Skipping decomposition, job already driven", "job_id", jobID, "status", job.Status)
		return nil
	}

	if err := s.jobs.SetStatus(ctx, nil, jobID, types.JobProcessing, nil); err != nil {
		return err
	}

	switch job.SubmissionType {
	case types.SubmissionSingleFile:
		return s.decomposeSingle(ctx, job)
	case types.SubmissionArchive:
		return s.decomposeArchive(ctx, job)
	default:
		return apierr.Newf(apierr.KindValidation, "SUBMISSION_TYPE",
			"job %s has unknown submission type %q", jobID, job.SubmissionType)
	}
}

func (s *jobService) decomposeSingle(ctx context.Context, job *types.Job) error {
	task := &types.Task{
		TaskID:         ident.NewTaskID(),
		JobID:          job.JobID,
		Status:         types.TaskPending,
		SourceFilePath: job.SourcePath,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.tasks.Create(ctx, nil, task); err != nil {
		return err
	}
	return s.publishRequest(ctx, job, task, "", 0, 0)
}

func (s *jobService) decomposeArchive(ctx context.Context, job *types.Job) error {
	_, sqlFiles, err := s.store.ExpandArchive(job.SourcePath, filestore.ExtractDir(job.JobID))
	if err != nil {
		msg := err.Error()
		if ferr := s.jobs.SetStatus(ctx, nil, job.JobID, types.JobFailed, &msg); ferr != nil {
			s.log.Error("Could not record decomposition failure", "job_id", job.JobID, "error", ferr)
		}
		return err
	}

	var created []*types.Task
	now := time.Now()
	for _, rel := range sqlFiles {
		canonical := filestore.JobSourcePath(job.JobID, filepath.Base(rel))
		if err := s.store.Copy(rel, canonical); err != nil {
			s.log.Warn("Skipping file that could not be canonicalized", "job_id", job.JobID, "file", rel, "error", err)
			continue
		}
		created = append(created, &types.Task{
			TaskID:         ident.NewTaskID(),
			JobID:          job.JobID,
			Status:         types.TaskPending,
			SourceFilePath: canonical,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if len(created) == 0 {
		msg := noSQLFilesMessage
		return s.jobs.SetStatus(ctx, nil, job.JobID, types.JobFailed, &msg)
	}

	if _, err := s.tasks.CreateBatch(ctx, nil, created); err != nil {
		return err
	}

	batchID := ident.NewBatchID()
	total := len(created)
	for i, task := range created {
		if err := s.publishRequest(ctx, job, task, batchID, i+1, total); err != nil {
			s.log.Error("Request publish failed", "task_id", task.TaskID, "error", err)
		}
	}
	s.log.Info("Archive decomposed", "job_id", job.JobID, "tasks", total)
	return nil
}

// publishRequest emits one SqlCheckRequested. fileIndex and totalFiles are
// 1-based and only set when batchID is non-empty.
func (s *jobService) publishRequest(ctx context.Context, job *types.Job, task *types.Task, batchID string, fileIndex, totalFiles int) error {
	payload := &events.SqlCheckRequested{
		JobID:       job.JobID,
		FileName:    task.FileName(),
		SQLFilePath: task.SourceFilePath,
		Dialect:     job.Dialect,
		UserID:      job.UserID,
		ProductName: job.ProductName,
	}
	if batchID != "" {
		payload.BatchID = batchID
		payload.FileIndex = &fileIndex
		payload.TotalFiles = &totalFiles
	}
	return s.bus.Publish(ctx, events.ChannelRequests, events.New(payload, ident.NewReqID()))
}

func (s *jobService) GetJob(ctx context.Context, jobID string, page repos.Page) (*JobDetail, error) {
	job, err := s.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.Newf(apierr.KindNotFound, "JOB_NOT_FOUND", "job %s not found", jobID)
	}

	counts, err := s.jobs.TaskCounts(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	tasks, total, err := s.tasks.ListByJob(ctx, nil, jobID, page, "")
	if err != nil {
		return nil, err
	}
	summaries := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, taskSummaryOf(t))
	}

	return &JobDetail{
		JobSummary: jobSummaryOf(job),
		SourcePath: job.SourcePath,
		TaskCounts: counts,
		SubTasks:   newPageEnvelope(summaries, total, page.Page, page.Size),
	}, nil
}

func (s *jobService) ListJobs(ctx context.Context, page repos.Page, filter repos.JobFilter) (PageEnvelope[JobSummary], error) {
	jobs, total, err := s.jobs.List(ctx, nil, page, filter)
	if err != nil {
		return PageEnvelope[JobSummary]{}, err
	}
	summaries := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, jobSummaryOf(j))
	}
	return newPageEnvelope(summaries, total, page.Page, page.Size), nil
}

func (s *jobService) Statistics(ctx context.Context) (*JobStatistics, error) {
	counts, err := s.jobs.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &JobStatistics{StatusCounts: map[types.JobStatus]int64{
		types.JobAccepted:           0,
		types.JobProcessing:         0,
		types.JobCompleted:          0,
		types.JobPartiallyCompleted: 0,
		types.JobFailed:             0,
	}}
	for status, n := range counts {
		stats.StatusCounts[status] = n
		stats.TotalJobs += n
	}

	spans, err := s.jobs.TerminalSpans(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(spans) > 0 {
		var total time.Duration
		for _, span := range spans {
			total += span.UpdatedAt.Sub(span.CreatedAt)
		}
		avg := total.Minutes() / float64(len(spans))
		stats.AvgProcessingMinutes = &avg
	}
	return stats, nil
}

func (s *jobService) TaskIDs(ctx context.Context, jobID string) (*JobTaskIDs, error) {
	job, err := s.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.Newf(apierr.KindNotFound, "JOB_NOT_FOUND", "job %s not found", jobID)
	}
	ids, err := s.tasks.IDsByJob(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	return &JobTaskIDs{JobID: jobID, TaskIDs: ids, TotalCount: len(ids)}, nil
}

func (s *jobService) DeriveJobStatus(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apierr.Newf(apierr.KindNotFound, "JOB_NOT_FOUND", "job %s not found", jobID)
	}

	tasks, err := s.tasks.AllByJob(ctx, nil, jobID)
	if err != nil {
		return err
	}
	derived, msg := deriveStatus(tasks)

	if derived == job.Status {
		return nil
	}
	s.log.Info("Reconciling job status", "job_id", jobID, "from", job.Status, "to", derived)
	if err := s.jobs.Reconcile(ctx, nil, jobID, derived, msg); err != nil {
		return err
	}

	if derived.IsTerminal() && job.SubmissionType == types.SubmissionArchive {
		if err := s.store.RemoveAll(filestore.ExtractDir(jobID)); err != nil {
			s.log.Warn("Scratch cleanup failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// deriveStatus is the aggregation rule: invalid-SQL skips are ignored, then
// the effective set decides the job outcome.
func deriveStatus(tasks []*types.Task) (types.JobStatus, *string) {
	if len(tasks) == 0 {
		return types.JobAccepted, nil
	}

	var effective []*types.Task
	for _, t := range tasks {
		if !t.IsIgnored() {
			effective = append(effective, t)
		}
	}
	if len(effective) == 0 {
		msg := noEffectiveTasksMessage
		return types.JobFailed, &msg
	}

	success, failure := 0, 0
	for _, t := range effective {
		switch t.Status {
		case types.TaskSuccess:
			success++
		case types.TaskFailure:
			failure++
		}
	}

	switch {
	case success == len(effective):
		return types.JobCompleted, nil
	case success > 0:
		return types.JobPartiallyCompleted, nil
	case failure == len(effective):
		msg := "all tasks failed"
		return types.JobFailed, &msg
	default:
		return types.JobProcessing, nil
	}
}

func (s *jobService) SetJobStatus(ctx context.Context, jobID string, status types.JobStatus, errorMessage *string) error {
	if !status.Valid() {
		return apierr.Newf(apierr.KindValidation, "JOB_STATUS", "unknown job status %q", status)
	}
	return s.jobs.SetStatus(ctx, nil, jobID, status, errorMessage)
}

func (s *jobService) RetryFailedTasks(ctx context.Context, taskIDs []string) (*RetryOutcome, error) {
	outcome := &RetryOutcome{
		SubmittedTasks:    []string{},
		FailedSubmissions: []RetryRejection{},
	}
	for _, taskID := range taskIDs {
		task, err := s.tasks.GetByID(ctx, nil, taskID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			outcome.FailedSubmissions = append(outcome.FailedSubmissions, RetryRejection{
				TaskID: taskID, Reason: "task not found",
			})
			continue
		}
		if task.Status != types.TaskFailure {
			outcome.FailedSubmissions = append(outcome.FailedSubmissions, RetryRejection{
				TaskID: taskID, Reason: "task is not in FAILURE",
			})
			continue
		}
		job, err := s.jobs.GetByID(ctx, nil, task.JobID)
		if err != nil {
			return nil, err
		}
		if job == nil {
			outcome.FailedSubmissions = append(outcome.FailedSubmissions, RetryRejection{
				TaskID: taskID, Reason: "parent job not found",
			})
			continue
		}
		if err := s.tasks.SetStatus(ctx, nil, taskID, types.TaskPending, nil, nil); err != nil {
			outcome.FailedSubmissions = append(outcome.FailedSubmissions, RetryRejection{
				TaskID: taskID, Reason: err.Error(),
			})
			continue
		}
		if err := s.publishRequest(ctx, job, task, "", 0, 0); err != nil {
			outcome.FailedSubmissions = append(outcome.FailedSubmissions, RetryRejection{
				TaskID: taskID, Reason: err.Error(),
			})
			continue
		}
		outcome.SubmittedTasks = append(outcome.SubmittedTasks, taskID)
	}

	if len(outcome.SubmittedTasks) > 0 {
		byJob := map[string]bool{}
		for _, id := range outcome.SubmittedTasks {
			task, err := s.tasks.GetByID(ctx, nil, id)
			if err == nil && task != nil {
				byJob[task.JobID] = true
			}
		}
		for jobID := range byJob {
			if err := s.DeriveJobStatus(ctx, jobID); err != nil {
				s.log.Warn("Re-derivation after retry failed", "job_id", jobID, "error", err)
			}
		}
	}
	return outcome, nil
}
