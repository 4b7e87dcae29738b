package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
	"github.com/unmanic/unmanicd/pkg/workerauth"
)

type fakeQueue struct {
	pending []*task.Task
	byID    map[int64]*task.Task
}

func newFakeQueue(tasks ...*task.Task) *fakeQueue {
	q := &fakeQueue{byID: map[int64]*task.Task{}}
	for _, t := range tasks {
		q.pending = append(q.pending, t)
		q.byID[t.ID] = t
	}
	return q
}

func (q *fakeQueue) Create(ctx context.Context, t *task.Task) error { return nil }
func (q *fakeQueue) ListPending(ctx context.Context, limit int) ([]*task.Task, error) {
	return q.pending, nil
}
func (q *fakeQueue) ListInProgress(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) ListProcessed(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) GetNextPending(ctx context.Context, filter taskqueue.Filter) (*task.Task, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	t.Status = task.StatusInProgress
	return t, nil
}
func (q *fakeQueue) GetNextProcessed(ctx context.Context) (*task.Task, error) { return nil, nil }
func (q *fakeQueue) MarkInProgress(ctx context.Context, t *task.Task) error {
	t.Status = task.StatusInProgress
	return nil
}
func (q *fakeQueue) MarkProcessed(ctx context.Context, t *task.Task) error {
	t.Status = task.StatusProcessed
	return nil
}
func (q *fakeQueue) MarkComplete(ctx context.Context, t *task.Task) error {
	t.Status = task.StatusComplete
	return nil
}
func (q *fakeQueue) PendingEmpty(ctx context.Context) (bool, error)    { return len(q.pending) == 0, nil }
func (q *fakeQueue) InProgressEmpty(ctx context.Context) (bool, error) { return true, nil }
func (q *fakeQueue) ProcessedEmpty(ctx context.Context) (bool, error)  { return true, nil }
func (q *fakeQueue) RequeueAtBottom(ctx context.Context, taskID int64) (bool, error) {
	return true, nil
}
func (q *fakeQueue) Get(ctx context.Context, taskID int64) (*task.Task, error) {
	return q.byID[taskID], nil
}
func (q *fakeQueue) Delete(ctx context.Context, taskID int64) error {
	delete(q.byID, taskID)
	return nil
}
func (q *fakeQueue) Close() error { return nil }

type alwaysHealthy struct{}

func (alwaysHealthy) Check(ctx context.Context) CheckResult { return CheckResult{Healthy: true} }

type alwaysUnhealthy struct{ msg string }

func (a alwaysUnhealthy) Check(ctx context.Context) CheckResult {
	return CheckResult{Healthy: false, Message: a.msg}
}

func newTestServer(t *testing.T, q taskqueue.Interface) (*Server, *workerauth.Manager) {
	t.Helper()
	auth, err := workerauth.New(t.TempDir())
	require.NoError(t, err)
	s := New(q, nil, auth, nil, nil, Checkers{"database": alwaysHealthy{}}, "test")
	return s, auth
}

func doJSON(t *testing.T, s *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestRegisterIssuesWorkingToken(t *testing.T) {
	s, _ := newTestServer(t, newFakeQueue())

	rec := doJSON(t, s, http.MethodPost, "/api/v2/workers/register", registerRequest{Name: "W1", Hostname: "h"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)

	verify := doJSON(t, s, http.MethodGet, "/api/v2/workers/verify", nil, token)
	assert.Equal(t, http.StatusOK, verify.Code)
}

func TestClaimRequiresBearerToken(t *testing.T) {
	s, _ := newTestServer(t, newFakeQueue())
	rec := doJSON(t, s, http.MethodPost, "/api/v2/tasks/claim", claimRequest{WorkerID: "w1"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClaimReturnsHighestPriorityTaskAndMarksInProgress(t *testing.T) {
	tsk := &task.Task{ID: 7, Abspath: "/m/A.mkv", Status: task.StatusPending}
	q := newFakeQueue(tsk)
	s, auth := newTestServer(t, q)

	_, token, err := auth.Register("W1", "host", nil)
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/v2/tasks/claim", claimRequest{WorkerID: "w1"}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claimed := resp["task"].(map[string]any)
	assert.Equal(t, float64(7), claimed["task_id"])
	assert.Equal(t, task.StatusInProgress, tsk.Status)
}

func TestClaimOnEmptyQueueReturnsNullTaskWith200(t *testing.T) {
	q := newFakeQueue()
	s, auth := newTestServer(t, q)
	_, token, err := auth.Register("W1", "host", nil)
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/v2/tasks/claim", claimRequest{WorkerID: "w1"}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp["task"])
}

func TestStatusCompletedMarksProcessed(t *testing.T) {
	tsk := &task.Task{ID: 9, Abspath: "/m/B.mkv", Status: task.StatusInProgress}
	q := newFakeQueue()
	q.byID[9] = tsk
	s, auth := newTestServer(t, q)
	_, token, err := auth.Register("W1", "host", nil)
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/v2/tasks/9/status", statusRequest{WorkerID: "w1", Status: "completed"}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, task.StatusProcessed, tsk.Status)
	assert.True(t, tsk.Success)
}

func TestRevokedTokenIsRejected(t *testing.T) {
	s, auth := newTestServer(t, newFakeQueue())
	_, token, err := auth.Register("W1", "host", nil)
	require.NoError(t, err)
	require.NoError(t, auth.Revoke(token))

	rec := doJSON(t, s, http.MethodGet, "/api/v2/workers/verify", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthReportsUnhealthyWhenAllComponentsDown(t *testing.T) {
	auth, err := workerauth.New(t.TempDir())
	require.NoError(t, err)
	s := New(newFakeQueue(), nil, auth, nil, nil, Checkers{"database": alwaysUnhealthy{msg: "no connection"}}, "test")

	rec := doJSON(t, s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyEndpoint(t *testing.T) {
	s, _ := newTestServer(t, newFakeQueue())
	rec := doJSON(t, s, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
