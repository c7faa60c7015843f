package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/cuongbtq/agent-worker/internal/api/dto"
	"github.com/cuongbtq/agent-worker/internal/api/handler"
	"github.com/cuongbtq/agent-worker/internal/api/storage"
	"github.com/cuongbtq/agent-worker/shared/logger"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type enqueued struct {
	jobID string
	query string
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	err  error
	jobs []enqueued
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, jobID, query string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.jobs = append(e.jobs, enqueued{jobID: jobID, query: query})
	return fmt.Sprintf("task-%d", len(e.jobs)), nil
}

func (e *fakeEnqueuer) Close() error { return nil }

type testAPI struct {
	router   *gin.Engine
	store    *storage.Storage
	enqueuer *fakeEnqueuer
	clock    time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := storage.NewStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	api := &testAPI{
		store:    store,
		enqueuer: &fakeEnqueuer{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	api.router = SetupRouter(&handler.Dependencies{
		Logger:      logger.NewNop().Logger,
		Store:       store,
		Enqueuer:    api.enqueuer,
		HealthCheck: func(ctx context.Context) error { return db.PingContext(ctx) },
		Now: func() time.Time {
			api.clock = api.clock.Add(time.Second)
			return api.clock
		},
	})

	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) createJob(t *testing.T, query, userID string) dto.CreateJobResponse {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/jobs", map[string]string{"query": query, "user_id": userID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (a *testAPI) getJob(t *testing.T, jobID string) dto.JobDTO {
	t.Helper()
	w := a.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"job-api-service","database":"up"}`, w.Body.String())
}

func TestHealth_DatabaseDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(&handler.Dependencies{
		Logger:      logger.NewNop().Logger,
		HealthCheck: func(context.Context) error { return errors.New("database health check failed") },
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateJob(t *testing.T) {
	api := newTestAPI(t)

	resp := api.createJob(t, "capital of France", "user-1")
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "task-1", resp.QueueID)

	require.Len(t, api.enqueuer.jobs, 1)
	assert.Equal(t, enqueued{jobID: resp.JobID, query: "capital of France"}, api.enqueuer.jobs[0])

	job := api.getJob(t, resp.JobID)
	assert.Equal(t, "internet_search", job.JobType)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, "capital of France", job.Query)
	assert.Equal(t, "PENDING", job.Status)
	require.NotNil(t, job.QueueID)
	assert.Equal(t, "task-1", *job.QueueID)
}

func TestCreateJob_InvalidBody(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []string{`{"user_id":"u"}`, `{"query":"q"}`, `not json`} {
		w := api.do(t, http.MethodPost, "/api/v1/jobs", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, api.enqueuer.jobs)
}

func TestCreateJob_EnqueueFailureFailsJob(t *testing.T) {
	api := newTestAPI(t)
	api.enqueuer.err = errors.New("redis: connection refused")

	w := api.do(t, http.MethodPost, "/api/v1/jobs", map[string]string{"query": "q", "user_id": "user-1"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body["job_id"])

	job := api.getJob(t, body["job_id"])
	assert.Equal(t, "FAILED", job.Status)
	require.NotNil(t, job.ErrorType)
	assert.Equal(t, "TRANSPORT_ERROR", *job.ErrorType)
}

func TestGetJob(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/jobs/5b1f0a52-7f43-4a3e-9d7e-2b0c6c3f5e11", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateJob_Lifecycle(t *testing.T) {
	api := newTestAPI(t)
	jobID := api.createJob(t, "capital of France", "user-1").JobID

	steps := []struct {
		name       string
		path       string
		body       string
		wantCode   int
		wantStatus string
	}{
		{
			name:       "processing",
			path:       "/redis.updateJob",
			body:       fmt.Sprintf(`{"jobId":%q,"status":"PROCESSING"}`, jobID),
			wantCode:   http.StatusOK,
			wantStatus: "PROCESSING",
		},
		{
			name:       "completed under trpc prefix",
			path:       "/trpc/redis.updateJob",
			body:       fmt.Sprintf(`{"jobId":%q,"status":"COMPLETED","result":"Paris"}`, jobID),
			wantCode:   http.StatusOK,
			wantStatus: "COMPLETED",
		},
		{
			name:       "repeated completed is idempotent",
			path:       "/redis.updateJob",
			body:       fmt.Sprintf(`{"jobId":%q,"status":"COMPLETED","result":"Paris"}`, jobID),
			wantCode:   http.StatusOK,
			wantStatus: "COMPLETED",
		},
		{
			name:       "regression to processing",
			path:       "/redis.updateJob",
			body:       fmt.Sprintf(`{"jobId":%q,"status":"PROCESSING"}`, jobID),
			wantCode:   http.StatusConflict,
			wantStatus: "COMPLETED",
		},
		{
			name:       "failed after completed",
			path:       "/redis.updateJob",
			body:       fmt.Sprintf(`{"jobId":%q,"status":"FAILED","error":{"message":"late","type":"AGENT_ERROR"}}`, jobID),
			wantCode:   http.StatusConflict,
			wantStatus: "COMPLETED",
		},
	}

	for _, step := range steps {
		w := api.do(t, http.MethodPost, step.path, step.body)
		assert.Equal(t, step.wantCode, w.Code, "%s: %s", step.name, w.Body.String())

		job := api.getJob(t, jobID)
		assert.Equal(t, step.wantStatus, job.Status, step.name)
	}

	job := api.getJob(t, jobID)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Paris", *job.Result)
	assert.Nil(t, job.Error)
}

func TestUpdateJob_Failed(t *testing.T) {
	tests := []struct {
		name      string
		errorJSON string
		wantMsg   string
		wantType  string
	}{
		{
			name:      "structured error",
			errorJSON: `{"message":"No query provided in job data","type":"VALIDATION_ERROR"}`,
			wantMsg:   "No query provided in job data",
			wantType:  "VALIDATION_ERROR",
		},
		{
			name:      "plain string error",
			errorJSON: `"search failed"`,
			wantMsg:   "search failed",
			wantType:  "AGENT_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			jobID := api.createJob(t, "q", "user-1").JobID

			body := fmt.Sprintf(`{"jobId":%q,"status":"FAILED","error":%s}`, jobID, tt.errorJSON)
			w := api.do(t, http.MethodPost, "/redis.updateJob", body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			job := api.getJob(t, jobID)
			assert.Equal(t, "FAILED", job.Status)
			require.NotNil(t, job.Error)
			require.NotNil(t, job.ErrorType)
			assert.Equal(t, tt.wantMsg, *job.Error)
			assert.Equal(t, tt.wantType, *job.ErrorType)
		})
	}
}

func TestUpdateJob_Invalid(t *testing.T) {
	api := newTestAPI(t)
	jobID := api.createJob(t, "q", "user-1").JobID

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "missing job id", body: `{"status":"PROCESSING"}`, wantCode: http.StatusBadRequest},
		{name: "unknown status", body: fmt.Sprintf(`{"jobId":%q,"status":"DONE"}`, jobID), wantCode: http.StatusBadRequest},
		{name: "result and error", body: fmt.Sprintf(`{"jobId":%q,"status":"COMPLETED","result":"a","error":"b"}`, jobID), wantCode: http.StatusBadRequest},
		{name: "result on processing", body: fmt.Sprintf(`{"jobId":%q,"status":"PROCESSING","result":"a"}`, jobID), wantCode: http.StatusBadRequest},
		{name: "error of wrong shape", body: fmt.Sprintf(`{"jobId":%q,"status":"FAILED","error":42}`, jobID), wantCode: http.StatusBadRequest},
		{name: "unknown job", body: `{"jobId":"nope","status":"PROCESSING"}`, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/redis.updateJob", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, "PENDING", api.getJob(t, jobID).Status)
}

func TestListJobs_Pagination(t *testing.T) {
	api := newTestAPI(t)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, api.createJob(t, fmt.Sprintf("query %d", i), "user-1").JobID)
	}
	api.createJob(t, "someone else", "user-2")

	var seen []string
	cursor := ""
	for page := 0; page < 5; page++ {
		path := "/api/v1/jobs?user_id=user-1&page_size=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}

		w := api.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.LessOrEqual(t, len(resp.Jobs), 2)

		for _, j := range resp.Jobs {
			seen = append(seen, j.JobID)
		}

		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	// Newest first
	want := []string{ids[4], ids[3], ids[2], ids[1], ids[0]}
	assert.Equal(t, want, seen)
}

func TestListJobs_Filters(t *testing.T) {
	api := newTestAPI(t)
	done := api.createJob(t, "q1", "user-1").JobID
	api.createJob(t, "q2", "user-1")

	w := api.do(t, http.MethodPost, "/redis.updateJob", fmt.Sprintf(`{"jobId":%q,"status":"COMPLETED","result":"r"}`, done))
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/jobs?status=COMPLETED&job_type=internet_search", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, done, resp.Jobs[0].JobID)
	assert.Empty(t, resp.NextCursor)

	w = api.do(t, http.MethodGet, "/api/v1/jobs?status=DONE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/jobs?cursor=%25%25", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
