package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zorth44/sqlfluff-service/internal/analyzer"
	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/bus"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/events"
	"github.com/zorth44/sqlfluff-service/internal/filestore"
	"github.com/zorth44/sqlfluff-service/internal/locks"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/services"
	"github.com/zorth44/sqlfluff-service/internal/types"
)

// errNotActionable marks a request that resolved to nothing runnable:
// missing task, non-PENDING task, or a lock held elsewhere. Never retried.
var errNotActionable = errors.New("request not actionable")

const shutdownGrace = 30 * time.Second

// NewWorkerID builds the stable per-process worker identity.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("worker-%s-%d", host, os.Getpid())
}

// Worker consumes request events and executes analyses under a bounded pool.
type Worker struct {
	cfg      config.Config
	id       string
	bus      bus.Bus
	locks    locks.Service
	store    *filestore.Service
	analyzer analyzer.Service
	tasks    services.TaskService
	taskRepo repos.TaskRepo
	jobs     repos.JobRepo
	log      *logger.Logger

	sem       *semaphore.Weighted
	poolSize  int64
	started   time.Time
	current   atomic.Int64
	processed atomic.Int64
}

func New(cfg config.Config, b bus.Bus, lk locks.Service, store *filestore.Service, an analyzer.Service, tasks services.TaskService, taskRepo repos.TaskRepo, jobs repos.JobRepo, log *logger.Logger) *Worker {
	id := NewWorkerID()
	size := int64(cfg.WorkerConcurrency)
	if size < 1 {
		size = 1
	}
	return &Worker{
		cfg:      cfg,
		id:       id,
		bus:      b,
		locks:    lk,
		store:    store,
		analyzer: an,
		tasks:    tasks,
		taskRepo: taskRepo,
		jobs:     jobs,
		log:      log.With("worker_id", id),
		sem:      semaphore.NewWeighted(size),
		poolSize: size,
	}
}

func (w *Worker) ID() string { return w.id }

// Run subscribes to the request channel and blocks until ctx is cancelled,
// then waits out the shutdown grace period for in-flight tasks.
func (w *Worker) Run(ctx context.Context) error {
	w.started = time.Now()

	if err := w.bus.Subscribe(ctx, events.ChannelRequests, func(e events.Envelope) {
		w.dispatch(ctx, e)
	}); err != nil {
		return err
	}
	w.log.Info("Worker started", "concurrency", w.poolSize)

	go w.heartbeatLoop(ctx)

	<-ctx.Done()
	w.log.Info("Worker draining, waiting for in-flight tasks", "grace", shutdownGrace.String())

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := w.sem.Acquire(drainCtx, w.poolSize); err != nil {
		w.log.Warn("Shutdown grace elapsed with tasks still running")
		return nil
	}
	w.sem.Release(w.poolSize)
	w.log.Info("Worker stopped cleanly", "total_processed", w.processed.Load())
	return nil
}

// dispatch admits one request into the pool. It blocks while the pool is
// full, which is the intake back-pressure.
func (w *Worker) dispatch(ctx context.Context, e events.Envelope) {
	req, ok := e.Payload.(*events.SqlCheckRequested)
	if !ok {
		w.log.Debug("Ignoring non-request event", "event_type", e.EventType)
		return
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer w.sem.Release(1)
		w.current.Add(1)
		defer w.current.Add(-1)
		w.handle(ctx, e.CorrelationID, req)
	}()
}

// handle runs the full attempt loop for one request under the task lock.
func (w *Worker) handle(ctx context.Context, correlationID string, req *events.SqlCheckRequested) {
	task, err := w.taskRepo.FindByJobAndPath(ctx, nil, req.JobID, req.SQLFilePath)
	if err != nil {
		w.log.Error("Task lookup failed", "job_id", req.JobID, "file", req.SQLFilePath, "error", err)
		return
	}
	if task == nil {
		w.log.Warn("No task for request, dropping", "job_id", req.JobID, "file", req.SQLFilePath)
		return
	}
	log := w.log.With("task_id", task.TaskID, "job_id", task.JobID)

	lease, err := w.locks.Acquire(ctx, locks.TaskLockKey(task.TaskID), w.cfg.TaskLockTTL)
	if err != nil {
		log.Error("Lock acquire failed", "error", err)
		return
	}
	if lease == nil {
		log.Info("Task lock busy, dropping duplicate delivery")
		return
	}
	defer func() {
		if err := w.locks.Release(context.Background(), lease); err != nil {
			log.Warn("Lock release failed", "error", err)
		}
	}()

	for attempt := 0; ; attempt++ {
		err := w.execute(ctx, task.TaskID, correlationID, req)
		if err == nil {
			w.processed.Add(1)
			return
		}
		if errors.Is(err, errNotActionable) {
			log.Info("Task not actionable, dropping")
			return
		}

		kind := apierr.KindOf(err)
		msg := err.Error()
		if ferr := w.tasks.UpdateStatus(ctx, task.TaskID, types.TaskFailure, nil, &msg); ferr != nil {
			log.Error("Could not record task failure", "error", ferr)
		}
		if kind == apierr.KindInvalidSQLSkip {
			w.publishFailed(ctx, correlationID, req, err, false)
			return
		}
		if !apierr.Retriable(kind) {
			log.Error("Failure is deterministic, not retrying", "kind", string(kind), "error", err)
			w.publishFailed(ctx, correlationID, req, err, false)
			return
		}

		if attempt >= w.cfg.TaskMaxRetries {
			log.Error("Retries exhausted", "attempts", attempt+1, "error", err)
			w.publishFailed(ctx, correlationID, req, err, true)
			return
		}

		// The full backoff schedule outlives the lock TTL, so the lease has
		// to be refreshed before every sleep.
		if lerr := w.locks.Extend(ctx, lease, w.cfg.TaskLockTTL); lerr != nil {
			log.Warn("Lost the task lock, abandoning retries", "error", lerr)
			if rerr := w.tasks.UpdateStatus(ctx, task.TaskID, types.TaskPending, nil, nil); rerr != nil {
				log.Error("Could not reset task after lock loss", "error", rerr)
			}
			return
		}

		backoff := w.cfg.TaskRetryBackoff * (1 << attempt)
		log.Warn("Attempt failed, backing off", "attempt", attempt+1, "backoff", backoff.String(), "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if rerr := w.tasks.UpdateStatus(ctx, task.TaskID, types.TaskPending, nil, nil); rerr != nil {
			log.Error("Could not reset task for retry", "error", rerr)
			return
		}
	}
}

// execute performs a single attempt: claim, load, analyze, persist, publish.
func (w *Worker) execute(ctx context.Context, taskID, correlationID string, req *events.SqlCheckRequested) error {
	start := time.Now()

	hctx, cancel := context.WithTimeout(ctx, w.cfg.TaskHardTimeout)
	defer cancel()

	task, err := w.taskRepo.GetByID(hctx, nil, taskID)
	if err != nil {
		return err
	}
	if task == nil || task.Status != types.TaskPending {
		return errNotActionable
	}

	if err := w.tasks.UpdateStatus(hctx, taskID, types.TaskInProgress, nil, nil); err != nil {
		if apierr.IsKind(err, apierr.KindConflict) {
			return errNotActionable
		}
		return err
	}

	dialect := req.Dialect
	if dialect == "" {
		job, err := w.jobs.GetByID(hctx, nil, task.JobID)
		if err != nil {
			return err
		}
		if job != nil {
			dialect = job.Dialect
		}
	}
	if dialect == "" {
		dialect = w.cfg.DefaultDialect
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = task.FileName()
	}

	// A vanished source is a real failure. Only content that exists and is
	// rejected by the validity heuristics earns the skip marker.
	if !w.store.Exists(task.SourceFilePath) {
		return apierr.Newf(apierr.KindFileNotFound, "SOURCE_NOT_FOUND",
			"source file %s does not exist", task.SourceFilePath)
	}

	if !w.store.IsValidSQL(task.SourceFilePath) {
		return apierr.Newf(apierr.KindInvalidSQLSkip, "INVALID_SQL_SKIP",
			"%s: %s", types.SkipInvalidSQLPrefix, fileName)
	}

	sqlText, err := w.store.ReadText(task.SourceFilePath)
	if err != nil {
		return err
	}

	actx, acancel := context.WithTimeout(hctx, w.cfg.TaskSoftTimeout)
	defer acancel()
	result, err := w.analyzer.Analyze(actx, analyzer.Request{
		SQLText:         sqlText,
		FileName:        fileName,
		Dialect:         dialect,
		Rules:           req.Rules,
		ExcludeRules:    req.ExcludeRules,
		ConfigOverrides: req.ConfigOverrides,
	})
	if err != nil {
		if actx.Err() != nil || hctx.Err() != nil {
			return apierr.Newf(apierr.KindTimeout, "TASK_TIMEOUT",
				"analysis of %s exceeded its time limit", fileName)
		}
		return err
	}

	resultName := fileName
	if resultName == "" {
		resultName = taskID
	}
	resultPath := filestore.ResultPath(task.JobID, resultName)
	if err := w.store.WriteJSON(resultPath, result); err != nil {
		return err
	}

	if err := w.tasks.UpdateStatus(hctx, taskID, types.TaskSuccess, &resultPath, nil); err != nil {
		return err
	}

	w.publishCompleted(ctx, correlationID, req, result, resultPath, time.Since(start).Seconds())
	return nil
}

func (w *Worker) publishCompleted(ctx context.Context, correlationID string, req *events.SqlCheckRequested, result *analyzer.Result, resultPath string, duration float64) {
	raw, err := json.Marshal(result)
	if err != nil {
		w.log.Error("Could not encode result for completion event", "error", err)
		raw = []byte("{}")
	}
	payload := &events.SqlCheckCompleted{
		JobID:              req.JobID,
		FileName:           req.FileName,
		Result:             raw,
		ResultFilePath:     resultPath,
		ProcessingDuration: duration,
		WorkerID:           w.id,
		BatchID:            req.BatchID,
		FileIndex:          req.FileIndex,
		TotalFiles:         req.TotalFiles,
	}
	if err := w.bus.Publish(ctx, events.ChannelEvents, events.New(payload, correlationID)); err != nil {
		w.log.Error("Completion publish failed", "job_id", req.JobID, "error", err)
	}
}

func (w *Worker) publishFailed(ctx context.Context, correlationID string, req *events.SqlCheckRequested, cause error, retriesExhausted bool) {
	kind := apierr.KindOf(cause)
	code := "TASK_FAILED"
	var ae *apierr.Error
	if errors.As(cause, &ae) && ae.Code != "" {
		code = ae.Code
	}
	payload := &events.SqlCheckFailed{
		JobID:    req.JobID,
		FileName: req.FileName,
		Error: events.ErrorInfo{
			Code:    code,
			Message: cause.Error(),
			Kind:    string(kind),
		},
		WorkerID:   w.id,
		BatchID:    req.BatchID,
		FileIndex:  req.FileIndex,
		TotalFiles: req.TotalFiles,
	}
	if retriesExhausted {
		payload.Extensions = map[string]json.RawMessage{
			"retries_exhausted": json.RawMessage("true"),
		}
	}
	if err := w.bus.Publish(ctx, events.ChannelEvents, events.New(payload, correlationID)); err != nil {
		w.log.Error("Failure publish failed", "job_id", req.JobID, "error", err)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishHeartbeat(ctx)
		}
	}
}

func (w *Worker) publishHeartbeat(ctx context.Context) {
	current := w.current.Load()
	status := events.WorkerStatusIdle
	if current > 0 {
		status = events.WorkerStatusBusy
	}
	payload := &events.WorkerHeartbeat{
		WorkerID:       w.id,
		CurrentTasks:   int(current),
		TotalProcessed: w.processed.Load(),
		UptimeSeconds:  time.Since(w.started).Seconds(),
		Status:         status,
	}
	if err := w.bus.Publish(ctx, events.ChannelMonitoring, events.New(payload, "")); err != nil {
		w.log.Warn("Heartbeat publish failed", "error", err)
	}
}
