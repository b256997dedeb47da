package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/events"
	"github.com/zorth44/sqlfluff-service/internal/filestore"
	"github.com/zorth44/sqlfluff-service/internal/http/handlers"
	"github.com/zorth44/sqlfluff-service/internal/ident"
	"github.com/zorth44/sqlfluff-service/internal/locks"
	"github.com/zorth44/sqlfluff-service/internal/logger"
	"github.com/zorth44/sqlfluff-service/internal/repos"
	"github.com/zorth44/sqlfluff-service/internal/services"
	"github.com/zorth44/sqlfluff-service/internal/types"
)

type nopBus struct{ mu sync.Mutex }

func (b *nopBus) Publish(context.Context, string, events.Envelope) error          { return nil }
func (b *nopBus) Subscribe(context.Context, string, func(events.Envelope)) error  { return nil }
func (b *nopBus) Close() error                                                    { return nil }

type openLocks struct{}

func (openLocks) Acquire(_ context.Context, key string, _ time.Duration) (*locks.Lease, error) {
	return &locks.Lease{Key: key, Token: ident.NewReqID()}, nil
}
func (openLocks) Extend(context.Context, *locks.Lease, time.Duration) error { return nil }
func (openLocks) Release(context.Context, *locks.Lease) error               { return nil }

type apiEnv struct {
	router *gin.Engine
	jobs   repos.JobRepo
	tasks  repos.TaskRepo
	store  *filestore.Service
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		SharedRootPath: t.TempDir(),
		MaxFileBytes:   1 << 20,
		MaxZipFiles:    100,
		DefaultDialect: "ansi",
		TaskLockTTL:    time.Minute,
	}
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Job{}, &types.Task{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := filestore.New(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	jobRepo := repos.NewJobRepo(db, logger.Nop())
	taskRepo := repos.NewTaskRepo(db, logger.Nop())
	jsvc := services.NewJobService(cfg, jobRepo, taskRepo, store, &nopBus{}, openLocks{}, logger.Nop())
	tsvc := services.NewTaskService(taskRepo, store, jsvc, logger.Nop())

	router := NewRouter(RouterConfig{
		JobHandler:  handlers.NewJobHandler(jsvc, logger.Nop()),
		TaskHandler: handlers.NewTaskHandler(tsvc, jsvc, logger.Nop()),
		Log:         logger.Nop(),
	})
	return &apiEnv{router: router, jobs: jobRepo, tasks: taskRepo, store: store}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHealthcheckAndRequestID(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, http.MethodGet, "/healthcheck", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	rec = e.do(t, http.MethodGet, "/healthcheck", nil, map[string]string{"X-Request-ID": "req-abc"})
	if got := rec.Header().Get("X-Request-ID"); got != "req-abc" {
		t.Fatalf("X-Request-ID = %q, want echo", got)
	}
}

func TestCreateJobAndFetch(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"sql_content": "SELECT 1;",
		"user_id":     "u-1",
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	jobID, _ := decode(t, rec)["job_id"].(string)
	if !ident.IsValidJobID(jobID) {
		t.Fatalf("job_id = %q", jobID)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["job_id"] != jobID || body["submission_type"] != "SINGLE_FILE" {
		t.Fatalf("detail = %v", body)
	}
	if _, ok := body["sub_tasks"]; !ok {
		t.Fatalf("sub_tasks missing: %v", body)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/not-a-job-id", nil, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed id status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/"+ident.NewJobID(), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
}

func TestCreateJobValidation(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestTaskResultEndpoints(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()

	jobID := ident.NewJobID()
	resultRel := "results/" + jobID + "/a.sql_result.json"
	if err := e.store.WriteJSON(resultRel, map[string]interface{}{
		"summary":   map[string]interface{}{"total_violations": 0},
		"file_info": map[string]interface{}{"file_name": "a.sql"},
	}); err != nil {
		t.Fatalf("artifact: %v", err)
	}
	done := &types.Task{
		TaskID: ident.NewTaskID(), JobID: jobID, Status: types.TaskSuccess,
		SourceFilePath: "jobs/" + jobID + "/a.sql", ResultFilePath: &resultRel,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	pending := &types.Task{
		TaskID: ident.NewTaskID(), JobID: jobID, Status: types.TaskPending,
		SourceFilePath: "jobs/" + jobID + "/b.sql",
		CreatedAt:      time.Now(), UpdatedAt: time.Now(),
	}
	for _, task := range []*types.Task{done, pending} {
		if err := e.tasks.Create(ctx, nil, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rec := e.do(t, http.MethodGet, "/api/v1/tasks/"+done.TaskID+"/result", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	fileInfo, _ := body["file_info"].(map[string]interface{})
	if fileInfo["file_path"] != done.SourceFilePath {
		t.Fatalf("file_info = %v", fileInfo)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/tasks/"+pending.TaskID+"/result", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pending result status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/tasks/"+done.TaskID+"/result/download", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	want := `attachment; filename="task_result_` + done.TaskID + `.json"`
	if got := rec.Header().Get("Content-Disposition"); got != want {
		t.Fatalf("disposition = %q", got)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/tasks/"+ident.NewTaskID(), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing task status = %d", rec.Code)
	}
}

func TestRetryBatchValidation(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/tasks/retry", map[string]interface{}{
		"task_ids": []string{},
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty batch status = %d", rec.Code)
	}

	big := make([]string, 101)
	for i := range big {
		big[i] = ident.NewTaskID()
	}
	rec = e.do(t, http.MethodPost, "/api/v1/tasks/retry", map[string]interface{}{
		"task_ids": big,
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversize batch status = %d", rec.Code)
	}
}

func TestStatisticsAndPendingRoutes(t *testing.T) {
	e := newAPIEnv(t)

	for _, path := range []string{
		"/api/v1/jobs/statistics",
		"/api/v1/tasks/statistics",
		"/api/v1/tasks/pending",
	} {
		rec := e.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d body = %s", path, rec.Code, rec.Body.String())
		}
	}

	rec := e.do(t, http.MethodGet, "/api/v1/jobs", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list jobs status = %d", rec.Code)
	}
	body := decode(t, rec)
	for _, key := range []string{"items", "total", "page", "size", "has_next", "has_prev"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("page envelope missing %q: %v", key, body)
		}
	}
}
