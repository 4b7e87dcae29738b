package distworker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/workerauth"
)

type fakeAuth struct {
	toReap  []string
	workers map[string]*workerauth.WorkerInfo
}

func (a *fakeAuth) ReapStale(timeout time.Duration) []string {
	for _, id := range a.toReap {
		if w, ok := a.workers[id]; ok {
			w.Active = false
		}
	}
	return a.toReap
}

func (a *fakeAuth) Get(workerID string) (*workerauth.WorkerInfo, bool) {
	w, ok := a.workers[workerID]
	return w, ok
}

type fakeQueue struct {
	inProgress []*task.Task
	requeued   []int64
}

func (q *fakeQueue) ListInProgress(ctx context.Context, limit int) ([]*task.Task, error) {
	return q.inProgress, nil
}

func (q *fakeQueue) RequeueAtBottom(ctx context.Context, taskID int64) (bool, error) {
	q.requeued = append(q.requeued, taskID)
	return true, nil
}

func TestPassReclaimsTaskOfNewlyReapedWorker(t *testing.T) {
	auth := &fakeAuth{
		toReap: []string{"w1"},
		workers: map[string]*workerauth.WorkerInfo{
			"w1": {WorkerID: "w1", Active: true},
		},
	}
	q := &fakeQueue{inProgress: []*task.Task{
		{ID: 1, ProcessedByWorker: "w1", StartTime: time.Now()},
	}}
	m := New(auth, q)

	m.pass(context.Background())

	assert.Equal(t, []int64{1}, q.requeued)
}

func TestPassReclaimsTimedOutTaskEvenWithLiveWorker(t *testing.T) {
	auth := &fakeAuth{workers: map[string]*workerauth.WorkerInfo{
		"w1": {WorkerID: "w1", Active: true},
	}}
	q := &fakeQueue{inProgress: []*task.Task{
		{ID: 2, ProcessedByWorker: "w1", StartTime: time.Now().Add(-2 * TaskTimeout)},
	}}
	m := New(auth, q)

	m.pass(context.Background())

	assert.Equal(t, []int64{2}, q.requeued)
}

func TestPassLeavesHealthyTaskAlone(t *testing.T) {
	auth := &fakeAuth{workers: map[string]*workerauth.WorkerInfo{
		"w1": {WorkerID: "w1", Active: true},
	}}
	q := &fakeQueue{inProgress: []*task.Task{
		{ID: 3, ProcessedByWorker: "w1", StartTime: time.Now()},
	}}
	m := New(auth, q)

	m.pass(context.Background())

	assert.Empty(t, q.requeued)
}

func TestPassReclaimsTaskOfUnregisteredWorker(t *testing.T) {
	auth := &fakeAuth{workers: map[string]*workerauth.WorkerInfo{}}
	q := &fakeQueue{inProgress: []*task.Task{
		{ID: 4, ProcessedByWorker: "ghost", StartTime: time.Now()},
	}}
	m := New(auth, q)

	m.pass(context.Background())

	assert.Equal(t, []int64{4}, q.requeued)
}

func TestStartStop(t *testing.T) {
	auth := &fakeAuth{workers: map[string]*workerauth.WorkerInfo{}}
	q := &fakeQueue{}
	m := New(auth, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Stop()

	done := make(chan struct{})
	go func() { m.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "monitor did not stop")
	}
}
